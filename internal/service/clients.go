// clients.go — реестр API-клиентов и учёт квот.
//
// Все клиенты хранятся в одном ресурсе "clients". Каждое изменение
// выполняется одним docstore.Mutate, поэтому расход квоты линеаризован
// относительно любых других изменений клиентов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

// ClientRegistry — создание, поиск и блокировка API-клиентов.
type ClientRegistry struct {
	store      docstore.Store
	imageLimit int
	videoLimit int
	logger     *slog.Logger
	now        func() time.Time
}

// NewClientRegistry создаёт реестр. Лимиты назначаются новым клиентам
// при создании и далее меняются только через SetLimits.
func NewClientRegistry(store docstore.Store, imageLimit, videoLimit int, logger *slog.Logger) *ClientRegistry {
	return &ClientRegistry{
		store:      store,
		imageLimit: imageLimit,
		videoLimit: videoLimit,
		logger:     logger.With(slog.String("component", "clients")),
		now:        time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (r *ClientRegistry) WithClock(now func() time.Time) *ClientRegistry {
	r.now = now
	return r
}

// Create регистрирует клиента с новым API-ключом.
// Email должен содержать "@"; активный клиент с тем же email — ErrConflict.
func (r *ClientRegistry) Create(ctx context.Context, email string) (*model.Client, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return nil, invalidInput("некорректный email %q", email)
	}

	client := model.Client{
		ClientID: newID(8),
		Email:    email,
		APIKey:   newID(32),
		Status:   model.ClientActive,
		Quota: model.Quota{
			ImageLimit: r.imageLimit,
			VideoLimit: r.videoLimit,
		},
		CreatedAt: r.now().UTC(),
	}

	err := docstore.Mutate(ctx, r.store, resourceClients, model.ClientsDocument{}, func(_ context.Context, doc *model.ClientsDocument) error {
		existing := doc.Find(func(c *model.Client) bool {
			return c.Status == model.ClientActive && strings.EqualFold(c.Email, email)
		})
		if existing != nil {
			return fmt.Errorf("%w: активный клиент с email %s уже существует", ErrConflict, email)
		}
		doc.Clients = append(doc.Clients, client)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Клиент создан",
		slog.String("client_id", client.ClientID),
		slog.String("email", client.Email),
	)
	return &client, nil
}

// FindByAPIKey возвращает клиента по API-ключу или ErrNotFound.
func (r *ClientRegistry) FindByAPIKey(ctx context.Context, apiKey string) (*model.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: пустой API-ключ", ErrNotFound)
	}
	return r.find(ctx, func(c *model.Client) bool { return c.APIKey == apiKey })
}

// Get возвращает клиента по идентификатору или ErrNotFound.
func (r *ClientRegistry) Get(ctx context.Context, clientID string) (*model.Client, error) {
	return r.find(ctx, func(c *model.Client) bool { return c.ClientID == clientID })
}

// List возвращает всех клиентов.
func (r *ClientRegistry) List(ctx context.Context) ([]model.Client, error) {
	doc, err := docstore.Load(ctx, r.store, resourceClients, model.ClientsDocument{})
	if err != nil {
		return nil, err
	}
	return doc.Clients, nil
}

// Block блокирует всех клиентов с указанным email.
// Возвращает false, если клиентов с таким email нет.
func (r *ClientRegistry) Block(ctx context.Context, email string) (bool, error) {
	return r.setStatus(ctx, email, model.ClientBlocked)
}

// Unblock снимает блокировку со всех клиентов с указанным email.
func (r *ClientRegistry) Unblock(ctx context.Context, email string) (bool, error) {
	return r.setStatus(ctx, email, model.ClientActive)
}

// SetLimits изменяет лимиты клиента. Счётчики текущего окна сохраняются.
func (r *ClientRegistry) SetLimits(ctx context.Context, clientID string, imageLimit, videoLimit int) (*model.Client, error) {
	if imageLimit < 0 || videoLimit < 0 {
		return nil, invalidInput("лимиты не могут быть отрицательными (image=%d, video=%d)", imageLimit, videoLimit)
	}

	var updated model.Client
	err := docstore.Mutate(ctx, r.store, resourceClients, model.ClientsDocument{}, func(_ context.Context, doc *model.ClientsDocument) error {
		c := doc.Find(func(c *model.Client) bool { return c.ClientID == clientID })
		if c == nil {
			return fmt.Errorf("%w: клиент %s", ErrNotFound, clientID)
		}
		c.Quota.ImageLimit = imageLimit
		c.Quota.VideoLimit = videoLimit
		updated = *c
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Лимиты клиента изменены",
		slog.String("client_id", clientID),
		slog.Int("image_limit", imageLimit),
		slog.Int("video_limit", videoLimit),
	)
	return &updated, nil
}

func (r *ClientRegistry) find(ctx context.Context, match func(*model.Client) bool) (*model.Client, error) {
	doc, err := docstore.Load(ctx, r.store, resourceClients, model.ClientsDocument{})
	if err != nil {
		return nil, err
	}
	c := doc.Find(match)
	if c == nil {
		return nil, fmt.Errorf("%w: клиент", ErrNotFound)
	}
	found := *c
	return &found, nil
}

func (r *ClientRegistry) setStatus(ctx context.Context, email string, status model.ClientStatus) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, invalidInput("пустой email")
	}

	changed := 0
	found := false
	err := docstore.Mutate(ctx, r.store, resourceClients, model.ClientsDocument{}, func(_ context.Context, doc *model.ClientsDocument) error {
		for i := range doc.Clients {
			c := &doc.Clients[i]
			if !strings.EqualFold(c.Email, email) {
				continue
			}
			found = true
			if c.Status != status {
				c.Status = status
				changed++
			}
		}
		if changed == 0 {
			return docstore.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if !found {
		r.logger.Warn("Клиент не найден",
			slog.String("email", email),
			slog.String("status", string(status)),
		)
		return false, nil
	}
	r.logger.Info("Статус клиента изменён",
		slog.String("email", email),
		slog.String("status", string(status)),
		slog.Int("changed", changed),
	)
	return true, nil
}

// Decision — результат расхода квоты.
type Decision struct {
	// Admitted — true, если единица ресурса списана
	Admitted bool `json:"admitted"`
	// Class — класс ресурса
	Class model.MediaClass `json:"class"`
	// Used / Limit — состояние счётчика после решения
	Used  int `json:"used"`
	Limit int `json:"limit"`
	// ResetAt — конец текущего окна квоты
	ResetAt time.Time `json:"reset_at"`
}

// errQuotaDenied прерывает Mutate без записи при отказе.
var errQuotaDenied = errors.New("квота исчерпана")

// QuotaLedger — расход квот клиентов в скользящих окнах.
type QuotaLedger struct {
	store  docstore.Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaLedger создаёт учёт квот с указанной длиной окна.
func NewQuotaLedger(store docstore.Store, window time.Duration, logger *slog.Logger) *QuotaLedger {
	return &QuotaLedger{
		store:  store,
		window: window,
		logger: logger.With(slog.String("component", "quota")),
		now:    time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (q *QuotaLedger) WithClock(now func() time.Time) *QuotaLedger {
	q.now = now
	return q
}

// Consume списывает одну единицу ресурса класса class.
//
// Окно сбрасывается лениво: если reset_at не задан или now ≥ reset_at,
// оба счётчика обнуляются до проверки лимита. Отказ (Admitted == false)
// не изменяет документ. Заблокированный клиент получает ErrClientBlocked
// без изменения счётчиков; неизвестный — ErrNotFound.
func (q *QuotaLedger) Consume(ctx context.Context, clientID string, class model.MediaClass) (Decision, error) {
	if _, err := model.ParseMediaClass(string(class)); err != nil {
		return Decision{}, invalidInput("%s", err.Error())
	}

	decision := Decision{Class: class}
	err := docstore.Mutate(ctx, q.store, resourceClients, model.ClientsDocument{}, func(_ context.Context, doc *model.ClientsDocument) error {
		c := doc.Find(func(c *model.Client) bool { return c.ClientID == clientID })
		if c == nil {
			return fmt.Errorf("%w: клиент %s", ErrNotFound, clientID)
		}
		if c.Status == model.ClientBlocked {
			return ErrClientBlocked
		}

		now := q.now().UTC()
		quota := &c.Quota
		if quota.ResetAt == nil || !now.Before(*quota.ResetAt) {
			resetAt := now.Add(q.window)
			quota.ImageUsed = 0
			quota.VideoUsed = 0
			quota.ResetAt = &resetAt
		}

		decision.Limit = quota.Limit(class)
		decision.ResetAt = *quota.ResetAt
		if quota.Used(class)+1 > quota.Limit(class) {
			decision.Used = quota.Used(class)
			return errQuotaDenied
		}

		quota.Increment(class)
		decision.Used = quota.Used(class)
		decision.Admitted = true
		return nil
	})

	switch {
	case err == nil:
		quotaDecisionsTotal.WithLabelValues(string(class), "admitted").Inc()
		return decision, nil
	case errors.Is(err, errQuotaDenied):
		quotaDecisionsTotal.WithLabelValues(string(class), "denied").Inc()
		q.logger.Debug("Квота исчерпана",
			slog.String("client_id", clientID),
			slog.String("class", string(class)),
			slog.Int("limit", decision.Limit),
		)
		return decision, nil
	case errors.Is(err, ErrClientBlocked):
		quotaDecisionsTotal.WithLabelValues(string(class), "blocked").Inc()
		return Decision{Class: class}, err
	default:
		return Decision{}, err
	}
}
