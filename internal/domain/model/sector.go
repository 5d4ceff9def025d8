package model

import "fmt"

// Sector — категория метки для сбалансированных батчей.
type Sector string

const (
	SectorSafe     Sector = "safe"
	SectorModerate Sector = "moderate"
	SectorHigh     Sector = "high"
)

// Sectors — все секторы в порядке сборки батча.
var Sectors = []Sector{SectorSafe, SectorModerate, SectorHigh}

// ParseSector преобразует строку в Sector.
func ParseSector(s string) (Sector, error) {
	switch Sector(s) {
	case SectorSafe, SectorModerate, SectorHigh:
		return Sector(s), nil
	default:
		return "", fmt.Errorf("недопустимый сектор: %q, допустимые: safe, moderate, high", s)
	}
}

// IsSector проверяет, является ли строка именем сектора.
func IsSector(s string) bool {
	_, err := ParseSector(s)
	return err == nil
}

// SectorBuckets — документ ресурса "sectors": копии одобренных записей по секторам.
type SectorBuckets struct {
	Safe     []PredictionRecord `json:"safe"`
	Moderate []PredictionRecord `json:"moderate"`
	High     []PredictionRecord `json:"high"`
}

// Bucket возвращает указатель на корзину сектора.
func (b *SectorBuckets) Bucket(s Sector) *[]PredictionRecord {
	switch s {
	case SectorModerate:
		return &b.Moderate
	case SectorHigh:
		return &b.High
	default:
		return &b.Safe
	}
}

// Sizes возвращает количество записей в каждой корзине.
func (b SectorBuckets) Sizes() map[Sector]int {
	return map[Sector]int{
		SectorSafe:     len(b.Safe),
		SectorModerate: len(b.Moderate),
		SectorHigh:     len(b.High),
	}
}

// Lookup ищет копию записи во всех корзинах.
func (b *SectorBuckets) Lookup(id string) (Sector, PredictionRecord, bool) {
	for _, s := range Sectors {
		for _, rec := range *b.Bucket(s) {
			if rec.ID == id {
				return s, rec, true
			}
		}
	}
	return "", PredictionRecord{}, false
}

// Place помещает копию записи в корзину сектора. Прежняя копия той же
// записи удаляется из всех корзин, так что запись присутствует не более
// чем в одной корзине.
func (b *SectorBuckets) Place(s Sector, rec PredictionRecord) {
	b.Remove(map[string]bool{rec.ID: true})
	bucket := b.Bucket(s)
	*bucket = append(*bucket, rec)
}

// Remove удаляет копии записей с указанными идентификаторами. Возвращает число удалённых.
func (b *SectorBuckets) Remove(ids map[string]bool) int {
	removed := 0
	for _, s := range Sectors {
		bucket := b.Bucket(s)
		kept := (*bucket)[:0]
		for _, rec := range *bucket {
			if ids[rec.ID] {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		*bucket = kept
	}
	return removed
}

// Clear очищает все корзины.
func (b *SectorBuckets) Clear() {
	b.Safe = []PredictionRecord{}
	b.Moderate = []PredictionRecord{}
	b.High = []PredictionRecord{}
}
