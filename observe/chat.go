package observe

import (
	"mabletask/agent/models"
)

// Chat signal types.
const (
	ChatOpen    = "chat_open"
	ChatStart   = "chat_start"
	ChatMessage = "chat_message"
)

type chatProvider struct {
	global    string
	callbacks map[string]string
}

// chatProviders maps each widget's page global and callback names to chat
// signals. Callbacks not listed are ignored.
var chatProviders = map[string]chatProvider{
	"intercom": {global: "Intercom", callbacks: map[string]string{
		"onShow": ChatOpen, "onUserEmailSupplied": ChatStart, "onUnreadCountChange": ChatMessage,
	}},
	"drift": {global: "drift", callbacks: map[string]string{
		"sidebarOpen": ChatOpen, "startConversation": ChatStart, "message:sent": ChatMessage,
	}},
	"tidio": {global: "tidioChatApi", callbacks: map[string]string{
		"open": ChatOpen, "conversationStart": ChatStart, "messageFromVisitor": ChatMessage,
	}},
	"crisp": {global: "$crisp", callbacks: map[string]string{
		"chat:opened": ChatOpen, "message:sent": ChatMessage,
	}},
	"livechat": {global: "LiveChatWidget", callbacks: map[string]string{
		"visibility_changed": ChatOpen, "new_event": ChatMessage,
	}},
	"tawk": {global: "Tawk_API", callbacks: map[string]string{
		"onChatMaximized": ChatOpen, "onChatStarted": ChatStart, "onChatMessageVisitor": ChatMessage,
	}},
	"hubspot": {global: "HubSpotConversations", callbacks: map[string]string{
		"widgetLoaded": ChatOpen, "conversationStarted": ChatStart, "userInteractedWithWidget": ChatMessage,
	}},
	"zendesk": {global: "zE", callbacks: map[string]string{
		"open": ChatOpen, "chat:start": ChatStart, "chat:msg": ChatMessage,
	}},
}

// Chat hooks third-party chat widgets. A provider's callbacks are honoured
// only after its global has been seen on the page, so an absent widget
// degrades to nothing.
type Chat struct {
	emit   Emitter
	hooked map[string]bool
}

// NewChat creates the chat widget observer.
func NewChat(emit Emitter) *Chat {
	return &Chat{emit: emit, hooked: make(map[string]bool)}
}

func (c *Chat) Name() string { return "chat" }

// Attach hooks every chat widget whose global is present.
func (c *Chat) Attach(page *Page) {
	for name, p := range chatProviders {
		if c.hooked[name] || !page.HasGlobal(p.global) {
			continue
		}
		c.hooked[name] = true
		c.emit.Emit("chat_widget_detected", models.SourceDetection, map[string]any{
			"provider": name,
		}, "chat_widget:"+name)
	}
}

// Hooked reports whether provider's callbacks are active.
func (c *Chat) Hooked(provider string) bool {
	return c.hooked[provider]
}

// Handle maps widget callbacks to chat signals. Each signal is reported
// once per provider.
func (c *Chat) Handle(ev models.HostEvent) {
	if ev.Kind != models.KindWidget || !c.hooked[ev.Provider] {
		return
	}
	signal, ok := chatProviders[ev.Provider].callbacks[ev.Action]
	if !ok {
		return
	}
	c.emit.Emit(signal, models.SourceBehavior, map[string]any{
		"provider": ev.Provider,
	}, signal+":"+ev.Provider)
}
