package envelope

import (
	"maps"
	"time"

	"mabletask/agent/config"
	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/models"
	"mabletask/agent/transport"
	"mabletask/agent/utils"
)

// Field length limits applied to page metadata.
const (
	maxTitle       = 200
	maxDescription = 300
	maxURL         = 300
	maxShort       = 50
	maxMedium      = 100
)

// Base is the context merged into every envelope, computed fresh per call.
type Base struct {
	Identity models.Identity
	Session  models.SessionContext
	Page     models.PageContext
	Visitor  models.VisitorContext
	Vertical string
	Tools    []string
}

// ContextSource returns the current base context.
type ContextSource func() Base

// Builder assembles envelopes and hands them to a Submitter.
type Builder struct {
	cfg     *config.AgentConfig
	cache   *Cache
	source  ContextSource
	out     transport.Submitter
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// Options are the optional Builder collaborators.
type Options struct {
	Log     logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	NewID   func() string
}

// NewBuilder creates a builder with its own page-lifetime cache.
func NewBuilder(cfg *config.AgentConfig, source ContextSource, out transport.Submitter, opts Options) *Builder {
	b := &Builder{
		cfg:     cfg,
		cache:   NewCache(),
		source:  source,
		out:     out,
		log:     opts.Log,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if b.log == nil {
		b.log = logger.NewNop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newID == nil {
		b.newID = utils.NewID
	}
	return b
}

// Cache returns the builder's dedup cache.
func (b *Builder) Cache() *Cache {
	return b.cache
}

// Build returns the envelope for an event, or false when dedupeKey was
// already used in this page lifetime. data is copied, never retained.
func (b *Builder) Build(eventType string, source models.EventSource, data map[string]any, dedupeKey string) (*models.Envelope, bool) {
	if !b.cache.Claim(dedupeKey) {
		b.metrics.Suppressed(metrics.ReasonDedupe)
		return nil, false
	}

	base := b.source()
	eventData := make(map[string]any, len(data))
	maps.Copy(eventData, data)

	var tools []string
	if len(base.Tools) > 0 {
		tools = append([]string(nil), base.Tools...)
	}

	return &models.Envelope{
		EventID:          b.newID(),
		ClickID:          base.Identity.ClickID,
		OrganizationID:   base.Identity.OrgID,
		SessionID:        base.Identity.SessionID,
		EventType:        eventType,
		EventSource:      source,
		EventData:        eventData,
		DedupeKey:        dedupeKey,
		Timestamp:        b.now().UTC(),
		Session:          base.Session,
		Page:             truncatePage(base.Page),
		Visitor:          truncateVisitor(base.Visitor),
		DetectedVertical: base.Vertical,
		DetectedTools:    tools,
	}, true
}

// Emit builds the envelope and submits it. It reports whether an envelope
// was submitted.
func (b *Builder) Emit(eventType string, source models.EventSource, data map[string]any, dedupeKey string) bool {
	env, ok := b.Build(eventType, source, data, dedupeKey)
	if !ok {
		return false
	}
	b.metrics.EnvelopeBuilt(eventType, string(source))
	b.log.Debug("Emitting envelope",
		logger.String("event_type", eventType),
		logger.String("event_source", string(source)),
		logger.String("dedupe_key", dedupeKey),
	)
	return b.out.Submit(transport.Request{Path: b.cfg.EventPath, Body: env})
}

// EmitLegacy submits the flat legacy envelope of kind. It is sent only when
// a click id is known and is never deduplicated.
func (b *Builder) EmitLegacy(kind string, fields map[string]any) bool {
	if !b.cfg.Legacy() {
		b.metrics.Suppressed(metrics.ReasonLegacyDisabled)
		return false
	}
	base := b.source()
	if !base.Identity.HasClick() {
		b.metrics.Suppressed(metrics.ReasonNoClick)
		return false
	}

	flat := make(map[string]any, len(fields)+2)
	maps.Copy(flat, fields)
	flat["inf_click_id"] = base.Identity.ClickID
	flat["organization_id"] = base.Identity.OrgID

	b.metrics.Legacy(kind)
	legacy := models.LegacyEnvelope{Kind: kind, Fields: flat}
	return b.out.Submit(transport.Request{Path: legacy.Path(), Body: legacy})
}

func truncatePage(p models.PageContext) models.PageContext {
	p.URL = utils.Truncate(p.URL, maxURL)
	p.Path = utils.Truncate(p.Path, maxURL)
	p.Host = utils.Truncate(p.Host, maxMedium)
	p.Title = utils.Truncate(p.Title, maxTitle)
	p.Description = utils.Truncate(p.Description, maxDescription)
	p.Referrer = utils.Truncate(p.Referrer, maxURL)
	p.Canonical = utils.Truncate(p.Canonical, maxURL)
	p.OGTitle = utils.Truncate(p.OGTitle, maxTitle)
	p.OGType = utils.Truncate(p.OGType, maxShort)
	p.OGImage = utils.Truncate(p.OGImage, maxURL)
	p.PageType = utils.Truncate(p.PageType, maxShort)
	return p
}

func truncateVisitor(v models.VisitorContext) models.VisitorContext {
	v.UserAgent = utils.Truncate(v.UserAgent, maxURL)
	return v
}
