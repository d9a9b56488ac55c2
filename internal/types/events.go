package types

// NotificationUpdate is the only event type the notification stream acts on;
// payloads carrying any other type are ignored.
const NotificationUpdate = "NOTIFICATION_UPDATE"

// NotificationEvent is one push payload from the notification stream.
type NotificationEvent struct {
	Type        string `json:"type"`
	UnreadCount int    `json:"unreadCount"`
}
