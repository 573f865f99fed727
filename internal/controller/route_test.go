package controller

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute_CrossProduct(t *testing.T) {
	const caller = "0xcaller"
	openPeers := []string{"", caller, "0xsomeoneelse"}

	for _, appFocused := range []bool{false, true} {
		for _, open := range openPeers {
			for _, chatFocused := range []bool{false, true} {
				ctx := Context{AppFocused: appFocused, CurrentOpenPeer: open, ChatViewFocused: chatFocused}
				name := fmt.Sprintf("app=%v/open=%q/chat=%v", appFocused, open, chatFocused)

				want := GlobalBanner
				if appFocused && open != "" && chatFocused {
					want = InChatPopup
				}
				assert.Equal(t, want, Route(ctx, caller), name)
			}
		}
	}
}

func TestRoute_UnfocusedAppAlwaysBanner(t *testing.T) {
	ctx := Context{AppFocused: false, CurrentOpenPeer: "0xcaller", ChatViewFocused: true}
	assert.Equal(t, GlobalBanner, Route(ctx, "0xcaller"))
}

func TestRoute_OtherChatStillPopup(t *testing.T) {
	ctx := Context{AppFocused: true, CurrentOpenPeer: "0xfriend", ChatViewFocused: true}
	assert.Equal(t, InChatPopup, Route(ctx, "0xcaller"))
}
