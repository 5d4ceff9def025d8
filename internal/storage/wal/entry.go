// Пакет wal — журнал намерений для выпуска батчей дообучения.
//
// Выпуск батча меняет два документа: batches.json получает новый батч,
// а источник (корзины секторов или архив отзывов) теряет его записи.
// Перед изменениями в журнал пишется намерение; после сбоя между двумя
// записями намерение позволяет довести выпуск до конца или отменить его.
// Каждая транзакция хранится в отдельном файле {tx_id}.wal.json.
package wal

import (
	"errors"
	"time"
)

// OperationType — вид выпуска батча.
type OperationType string

const (
	// OpSectorBatchEmit — батч из корзин секторов, корзины очищаются
	OpSectorBatchEmit OperationType = "sector_batch_emit"
	// OpApprovedBatchEmit — батч одобренных записей, они удаляются из архива
	OpApprovedBatchEmit OperationType = "approved_batch_emit"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

var (
	// ErrNotFound — транзакции с таким идентификатором нет.
	ErrNotFound = errors.New("транзакция WAL не найдена")
	// ErrNotPending — транзакция уже завершена.
	ErrNotPending = errors.New("транзакция WAL уже завершена")
)

// Intent — намерение выпуска: какой батч сохраняется и какие записи
// уходят из источника. Наличие батча с BatchID в batches.json означает,
// что первая половина выпуска состоялась.
type Intent struct {
	BatchID   string   `json:"batch_id"`
	BatchName string   `json:"batch_name"`
	RecordIDs []string `json:"record_ids"`
}

// Entry — транзакция выпуска батча.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	Intent

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil, пока транзакция pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Reason — причина отката
	Reason string `json:"reason,omitempty"`
}

// Finished сообщает, завершена ли транзакция (коммитом или откатом).
func (e *Entry) Finished() bool {
	return e.Status == StatusCommitted || e.Status == StatusRolledBack
}

const entrySuffix = ".wal.json"

func entryFileName(txID string) string {
	return txID + entrySuffix
}
