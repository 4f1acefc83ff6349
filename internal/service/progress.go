// progress.go — поток событий прогресса загрузки.
//
// Каждый вызов Upload получает собственный emitter. Гарантии:
// процент не убывает, терминальное событие ровно одно,
// после отмены контекста события не отправляются.
package service

import (
	"context"
)

// Стадии загрузки.
const (
	StageValidating = "validating"
	StageStoring    = "storing"
	StageExtracting = "extracting"
	StageCommitting = "committing"
	StageScheduled  = "scheduled"
	StageFailed     = "failed"
)

// ProgressEvent — событие прогресса загрузки.
type ProgressEvent struct {
	// FileID — идентификатор файла (пустой до генерации)
	FileID string `json:"file_id,omitempty"`
	// Stage — текущая стадия
	Stage string `json:"stage"`
	// Percent — прогресс 0..100, не убывает
	Percent int `json:"percent"`
	// Terminal — финальное событие потока
	Terminal bool `json:"terminal"`
	// Error — текст ошибки для терминального failed
	Error string `json:"error,omitempty"`
}

// Status сводит стадию к трём внешним статусам:
// uploading (промежуточные), completed, error.
func (e ProgressEvent) Status() string {
	switch {
	case e.Stage == StageFailed:
		return "error"
	case e.Terminal:
		return "completed"
	default:
		return "uploading"
	}
}

// progressEmitter отправляет события в канал подписчика.
// Отправка никогда не блокирует загрузку: при переполненном
// буфере событие отбрасывается (терминальное — кроме случая отмены).
type progressEmitter struct {
	ctx         context.Context
	ch          chan<- ProgressEvent
	fileID      string
	lastPercent int
	terminated  bool
}

// newProgressEmitter создаёт emitter. ch может быть nil —
// тогда все события молча отбрасываются.
func newProgressEmitter(ctx context.Context, ch chan<- ProgressEvent) *progressEmitter {
	return &progressEmitter{ctx: ctx, ch: ch}
}

func (e *progressEmitter) setFileID(id string) {
	e.fileID = id
}

// emit отправляет нетерминальное событие.
func (e *progressEmitter) emit(stage string, percent int) {
	e.send(ProgressEvent{Stage: stage, Percent: percent})
}

// terminate отправляет терминальное событие и закрывает поток.
// Повторные вызовы игнорируются.
func (e *progressEmitter) terminate(stage string, errText string) {
	if e.terminated {
		return
	}
	e.terminated = true
	e.send(ProgressEvent{Stage: stage, Percent: 100, Terminal: true, Error: errText})
	if e.ch != nil {
		close(e.ch)
	}
}

func (e *progressEmitter) send(ev ProgressEvent) {
	if e.ch == nil {
		return
	}
	// Монотонность процента
	if ev.Percent < e.lastPercent {
		ev.Percent = e.lastPercent
	}
	e.lastPercent = ev.Percent
	ev.FileID = e.fileID

	if ev.Terminal {
		// Терминальное событие не отбрасывается, ждём подписчика
		// либо отмены контекста
		select {
		case <-e.ctx.Done():
		case e.ch <- ev:
		}
		return
	}

	select {
	case <-e.ctx.Done():
		// Подписчик отменил поток
	case e.ch <- ev:
	default:
		// Подписчик не успевает читать — событие отбрасывается
	}
}
