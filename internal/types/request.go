package types

import "github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"

type RequestCreateInstance struct {
	Name          string               `json:"name"`
	WebhookURL    string               `json:"webhook_url"`
	WebhookSecret string               `json:"webhook_secret"`
	WebhookEvents []string             `json:"webhook_events"`
	Proxy         *session.ProxyConfig `json:"proxy"`
}

type RequestUpdateWebhook struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

type RequestSendText struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type RequestSendImage struct {
	Phone   string `json:"phone"`
	Image   string `json:"image"`
	Caption string `json:"caption"`
}

type RequestSendDocument struct {
	Phone    string `json:"phone"`
	Document string `json:"document"`
	Mime     string `json:"mime"`
	Filename string `json:"filename"`
}

type RequestSendLocation struct {
	Phone     string  `json:"phone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type RequestSendContact struct {
	Phone        string `json:"phone"`
	ContactPhone string `json:"contact_phone"`
	ContactName  string `json:"contact_name"`
}

type RequestSendPoll struct {
	Phone    string   `json:"phone"`
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

type RequestEditMessage struct {
	Message string `json:"message"`
}

type RequestReact struct {
	Emoji string `json:"emoji"`
}

type RequestRevoke struct {
	Phone string `json:"phone"`
}

type RequestMarkRead struct {
	Phone string `json:"phone"`
}

type RequestTyping struct {
	Phone string `json:"phone"`
	State string `json:"state"`
}

type RequestPresence struct {
	Available bool `json:"available"`
}

type RequestCreateGroup struct {
	Subject      string   `json:"subject"`
	Participants []string `json:"participants"`
}

type RequestJoinGroup struct {
	Link string `json:"link"`
}

type RequestGroupSubject struct {
	Subject string `json:"subject"`
}

type RequestGroupDescription struct {
	Description string `json:"description"`
}

type RequestGroupParticipants struct {
	Participants []string `json:"participants"`
}

type RequestChatToggle struct {
	Enabled bool `json:"enabled"`
}

type RequestMuteChat struct {
	Seconds int `json:"seconds"`
}
