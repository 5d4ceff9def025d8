package model

import "time"

// BatchSource — путь, которым был собран батч.
type BatchSource string

const (
	// BatchSourceSector — сбалансированный батч из трёх секторов
	BatchSourceSector BatchSource = "sector"
	// BatchSourceApproved — еженедельный батч одобренных администратором записей
	BatchSourceApproved BatchSource = "approved"
)

// RetrainBatch — неизменяемый набор размеченных записей для тренера.
type RetrainBatch struct {
	BatchID   string             `json:"batch_id"`
	Name      string             `json:"name"`
	Source    BatchSource        `json:"source"`
	Records   []PredictionRecord `json:"records"`
	CreatedAt time.Time          `json:"created_at"`
}

// RecordIDs возвращает множество идентификаторов записей батча.
func (b *RetrainBatch) RecordIDs() map[string]bool {
	ids := make(map[string]bool, len(b.Records))
	for _, r := range b.Records {
		ids[r.ID] = true
	}
	return ids
}

// BatchesDocument — документ ресурса "batches".
type BatchesDocument struct {
	Batches []RetrainBatch `json:"batches"`
}

// Find возвращает батч по идентификатору или имени, либо nil.
func (d *BatchesDocument) Find(idOrName string) *RetrainBatch {
	for i := range d.Batches {
		if d.Batches[i].BatchID == idOrName || d.Batches[i].Name == idOrName {
			return &d.Batches[i]
		}
	}
	return nil
}

// CountBySource возвращает число батчей указанного источника.
func (d *BatchesDocument) CountBySource(src BatchSource) int {
	n := 0
	for _, b := range d.Batches {
		if b.Source == src {
			n++
		}
	}
	return n
}

// TrainingRun — результат запуска внешнего тренера на батче.
type TrainingRun struct {
	ID          string    `json:"id"`
	BatchID     string    `json:"batch_id"`
	BatchName   string    `json:"batch_name"`
	DatasetPath string    `json:"dataset_path"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ExitCode    int       `json:"exit_code"`
	Succeeded   bool      `json:"succeeded"`
	Output      string    `json:"output,omitempty"`
}

// TrainingRunsDocument — документ ресурса "training_runs".
type TrainingRunsDocument struct {
	Runs []TrainingRun `json:"runs"`
}
