// Package observe turns page snapshots and raw host events into signals.
//
// Each observer is independently attached and failure-isolated: a Set runs
// every observer inside a recover guard so one broken observer never stops
// the others.
package observe

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mabletask/agent/classify"
	"mabletask/agent/models"
)

// PageMeta is the document metadata found in a snapshot.
type PageMeta struct {
	Title       string
	Description string
	Canonical   string
	OGTitle     string
	OGType      string
	OGImage     string
}

// Video is an embedded video element or player iframe.
type Video struct {
	Provider string
	Src      string
}

// Page is the parsed form of a snapshot.
type Page struct {
	Meta       PageMeta
	Forms      []models.FormDescriptor
	Videos     []Video
	Iframes    []string
	Scripts    []string
	Generators []string
	Globals    []string
	DataLayer  []any
	Viewport   *models.Viewport
}

var videoPlayers = []struct {
	needle   string
	provider string
}{
	{"youtube.com/embed", "youtube"},
	{"youtube-nocookie.com/embed", "youtube"},
	{"player.vimeo.com", "vimeo"},
	{"fast.wistia", "wistia"},
	{"loom.com/embed", "loom"},
}

// ParseSnapshot parses a snapshot's HTML with goquery.
func ParseSnapshot(snap models.Snapshot) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	page := &Page{
		Meta:      extractMeta(doc),
		Forms:     extractForms(doc),
		Globals:   append([]string(nil), snap.Globals...),
		DataLayer: append([]any(nil), snap.DataLayer...),
		Viewport:  snap.Viewport,
	}

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		page.Scripts = append(page.Scripts, src)
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		page.Iframes = append(page.Iframes, src)
		lower := strings.ToLower(src)
		for _, p := range videoPlayers {
			if strings.Contains(lower, p.needle) {
				page.Videos = append(page.Videos, Video{Provider: p.provider, Src: src})
				break
			}
		}
	})

	doc.Find("video").Each(func(i int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			src, _ = s.Find("source[src]").First().Attr("src")
		}
		if src == "" {
			src = fmt.Sprintf("html5:%d", i)
		}
		page.Videos = append(page.Videos, Video{Provider: "html5", Src: src})
	})

	doc.Find("meta[name='generator']").Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok && content != "" {
			page.Generators = append(page.Generators, content)
		}
	})

	return page, nil
}

// Signals returns the detector input for this page.
func (p *Page) Signals() classify.Signals {
	return classify.Signals{
		Globals:    p.Globals,
		Scripts:    p.Scripts,
		Iframes:    p.Iframes,
		Generators: p.Generators,
	}
}

// HasGlobal reports whether name is among the page globals.
func (p *Page) HasGlobal(name string) bool {
	for _, g := range p.Globals {
		if g == name {
			return true
		}
	}
	return false
}

func extractMeta(doc *goquery.Document) PageMeta {
	meta := PageMeta{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	meta.Description, _ = doc.Find("meta[name='description']").Attr("content")
	meta.Canonical, _ = doc.Find("link[rel='canonical']").Attr("href")
	meta.OGTitle, _ = doc.Find("meta[property='og:title']").Attr("content")
	meta.OGType, _ = doc.Find("meta[property='og:type']").Attr("content")
	meta.OGImage, _ = doc.Find("meta[property='og:image']").Attr("content")
	return meta
}

func extractForms(doc *goquery.Document) []models.FormDescriptor {
	var forms []models.FormDescriptor
	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		form := models.FormDescriptor{
			Index:  i,
			ID:     s.AttrOr("id", ""),
			Name:   s.AttrOr("name", ""),
			Action: s.AttrOr("action", ""),
		}
		s.Find("input, select, textarea").Each(func(_ int, f *goquery.Selection) {
			fieldType := f.AttrOr("type", "")
			if fieldType == "" {
				fieldType = goquery.NodeName(f)
			}
			form.Fields = append(form.Fields, models.FormField{
				Name: f.AttrOr("name", ""),
				ID:   f.AttrOr("id", ""),
				Type: strings.ToLower(fieldType),
			})
		})
		forms = append(forms, form)
	})
	return forms
}
