package tele

import (
	tele_api "github.com/temoto/w1temp/tele"
)

func TopicEvent(prefix, name string, v tele_api.Visibility) string {
	if v == tele_api.Private {
		return prefix + "/p/" + name
	}
	return prefix + "/e/" + name
}

func TopicVariableRequest(prefix string) string { return prefix + "/r/v" }
func TopicVariable(prefix, name string) string  { return prefix + "/w/v/" + name }
func TopicConnect(prefix string) string         { return prefix + "/c" }

// Connection state payloads on TopicConnect.
var (
	PayloadOffline = []byte("0")
	PayloadOnline  = []byte("1")
)
