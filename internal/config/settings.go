package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration — time.Duration, читаемая из YAML строкой в формате Go ("168h", "1m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML разбирает строковое значение длительности.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("длительность должна быть строкой: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("некорректная длительность %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML сериализует длительность строкой.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Settings — бизнес-параметры ledger. Могут задаваться YAML-файлом,
// переменные окружения имеют приоритет над файлом.
type Settings struct {
	// Лимиты квот для новых клиентов
	ImageQuota int `yaml:"image_quota"`
	VideoQuota int `yaml:"video_quota"`
	// Длина окна квоты
	QuotaWindow Duration `yaml:"quota_window"`

	// Лимит запросов на ключ за окно
	RateLimit  int      `yaml:"rate_limit"`
	RateWindow Duration `yaml:"rate_window"`
	// Максимум одновременно отслеживаемых ключей
	RateMaxKeys int `yaml:"rate_max_keys"`

	// Срок ожидания решения администратора после отзыва пользователя
	ApprovalWindow Duration `yaml:"approval_window"`
	// Минимум записей в каждом секторе для выпуска батча
	MinPerSector int `yaml:"min_per_sector"`
	// Политика разрешения расхождений: secondary, primary, confidence
	DisagreementPolicy string `yaml:"disagreement_policy"`

	// Срок хранения загруженных файлов
	UploadRetention Duration `yaml:"upload_retention"`
	// День недели еженедельного отчёта
	ReportDay string `yaml:"report_day"`

	// Переопределения расписаний задач планировщика (имя задачи → cron)
	Schedules map[string]string `yaml:"schedules"`
}

// DefaultSettings возвращает значения по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		ImageQuota:         5000,
		VideoQuota:         100,
		QuotaWindow:        Duration{24 * time.Hour},
		RateLimit:          30,
		RateWindow:         Duration{time.Minute},
		RateMaxKeys:        100000,
		ApprovalWindow:     Duration{7 * 24 * time.Hour},
		MinPerSector:       1,
		DisagreementPolicy: "secondary",
		UploadRetention:    Duration{8 * 24 * time.Hour},
		ReportDay:          "sunday",
	}
}

// LoadFile накладывает значения из YAML-файла поверх текущих.
// Ключи, отсутствующие в файле, сохраняют прежние значения.
func (s *Settings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла настроек %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("ошибка разбора файла настроек %s: %w", path, err)
	}
	return nil
}

// Validate проверяет допустимость значений.
func (s *Settings) Validate() error {
	if s.ImageQuota < 0 || s.VideoQuota < 0 {
		return fmt.Errorf("квоты не могут быть отрицательными (image=%d, video=%d)", s.ImageQuota, s.VideoQuota)
	}
	if s.QuotaWindow.Duration <= 0 {
		return fmt.Errorf("quota_window: значение должно быть положительным")
	}
	if s.RateLimit <= 0 {
		return fmt.Errorf("rate_limit: значение должно быть положительным, получено %d", s.RateLimit)
	}
	if s.RateWindow.Duration <= 0 {
		return fmt.Errorf("rate_window: значение должно быть положительным")
	}
	if s.RateMaxKeys <= 0 {
		return fmt.Errorf("rate_max_keys: значение должно быть положительным, получено %d", s.RateMaxKeys)
	}
	if s.ApprovalWindow.Duration <= 0 {
		return fmt.Errorf("approval_window: значение должно быть положительным")
	}
	if s.MinPerSector < 1 {
		return fmt.Errorf("min_per_sector: значение должно быть >= 1, получено %d", s.MinPerSector)
	}
	if s.UploadRetention.Duration <= 0 {
		return fmt.Errorf("upload_retention: значение должно быть положительным")
	}
	switch s.DisagreementPolicy {
	case "secondary", "primary", "confidence":
	default:
		return fmt.Errorf("disagreement_policy: недопустимое значение %q, допустимые: secondary, primary, confidence",
			s.DisagreementPolicy)
	}
	if _, err := s.ReportWeekday(); err != nil {
		return err
	}
	return nil
}

// ReportWeekday возвращает день недели еженедельного отчёта.
func (s *Settings) ReportWeekday() (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s.ReportDay))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("report_day: недопустимый день недели %q", s.ReportDay)
}

// Schedule возвращает cron-выражение задачи: переопределение из настроек
// или значение по умолчанию.
func (s *Settings) Schedule(job, defaultSpec string) string {
	if spec, ok := s.Schedules[job]; ok && strings.TrimSpace(spec) != "" {
		return spec
	}
	return defaultSpec
}
