package metrics

import "context"

type pendingKey struct{}

// Pending копит счётчики одной попытки транзакции.
// Commit вызывается после успешной фиксации, иначе записи пропадают вместе с откатом.
type Pending struct {
	records []func()
}

// WithPending начинает новую попытку. Вызывать внутри замыкания WithinTx,
// чтобы повтор транзакции начинал с пустого списка.
func WithPending(ctx context.Context) (context.Context, *Pending) {
	p := &Pending{}
	return context.WithValue(ctx, pendingKey{}, p), p
}

// Defer откладывает record до Commit. Без Pending в ctx record выполняется сразу.
func Defer(ctx context.Context, record func()) {
	if p, ok := ctx.Value(pendingKey{}).(*Pending); ok && p != nil {
		p.records = append(p.records, record)
		return
	}
	record()
}

// Commit переносит накопленные записи в метрики. Повторный вызов ничего не делает.
func (p *Pending) Commit() {
	if p == nil {
		return
	}
	records := p.records
	p.records = nil
	for _, record := range records {
		record()
	}
}
