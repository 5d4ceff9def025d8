// Пакет model — доменные модели feedback-ledger.
// Структуры являются одновременно in-memory представлением
// и форматом документов хранилища (JSON, snake_case).
package model

import (
	"fmt"
	"time"
)

// ClientStatus — статус API-клиента.
type ClientStatus string

const (
	// ClientActive — клиент может расходовать квоту
	ClientActive ClientStatus = "active"
	// ClientBlocked — клиент заблокирован администратором
	ClientBlocked ClientStatus = "blocked"
)

// MediaClass — класс ресурса, расходуемого по квоте.
type MediaClass string

const (
	MediaImage MediaClass = "image"
	MediaVideo MediaClass = "video"
)

// ParseMediaClass преобразует строку в MediaClass.
func ParseMediaClass(s string) (MediaClass, error) {
	switch MediaClass(s) {
	case MediaImage, MediaVideo:
		return MediaClass(s), nil
	default:
		return "", fmt.Errorf("недопустимый класс ресурса: %q, допустимые: image, video", s)
	}
}

// Quota — счётчики потребления клиента в текущем окне.
// ResetAt == nil означает, что окно ещё не начиналось.
type Quota struct {
	ImageLimit int        `json:"image_limit"`
	VideoLimit int        `json:"video_limit"`
	ImageUsed  int        `json:"image_used"`
	VideoUsed  int        `json:"video_used"`
	ResetAt    *time.Time `json:"reset_at,omitempty"`
}

// Limit возвращает лимит для класса ресурса.
func (q *Quota) Limit(class MediaClass) int {
	if class == MediaVideo {
		return q.VideoLimit
	}
	return q.ImageLimit
}

// Used возвращает израсходованное количество для класса ресурса.
func (q *Quota) Used(class MediaClass) int {
	if class == MediaVideo {
		return q.VideoUsed
	}
	return q.ImageUsed
}

// Increment увеличивает счётчик класса на единицу.
func (q *Quota) Increment(class MediaClass) {
	if class == MediaVideo {
		q.VideoUsed++
		return
	}
	q.ImageUsed++
}

// Client — API-клиент. Никогда не удаляется, только меняет статус.
type Client struct {
	ClientID  string       `json:"client_id"`
	Email     string       `json:"email"`
	APIKey    string       `json:"api_key"`
	Status    ClientStatus `json:"status"`
	Quota     Quota        `json:"quota"`
	CreatedAt time.Time    `json:"created_at"`
}

// ClientsDocument — документ ресурса "clients".
type ClientsDocument struct {
	Clients []Client `json:"clients"`
}

// Find возвращает указатель на клиента по предикату или nil.
func (d *ClientsDocument) Find(match func(*Client) bool) *Client {
	for i := range d.Clients {
		if match(&d.Clients[i]) {
			return &d.Clients[i]
		}
	}
	return nil
}
