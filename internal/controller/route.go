// Package controller decides where an incoming call is surfaced.
package controller

// Surface is where the incoming call UI is shown
type Surface string

const (
	GlobalBanner Surface = "global-banner"
	InChatPopup  Surface = "in-chat-popup"
)

// Context is the client's focus state when a call arrives
type Context struct {
	AppFocused bool
	// Peer whose chat is open, empty when no chat is open.
	CurrentOpenPeer string
	ChatViewFocused bool
}

// Route picks the surface for a call from caller. First match wins:
// an unfocused app gets the global banner, an open and focused chat view
// gets the in-chat popup (whichever chat it is), anything else the banner.
func Route(ctx Context, caller string) Surface {
	switch {
	case !ctx.AppFocused:
		return GlobalBanner
	case ctx.CurrentOpenPeer != "" && ctx.ChatViewFocused:
		return InChatPopup
	default:
		return GlobalBanner
	}
}
