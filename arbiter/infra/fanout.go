package infra

import (
	"context"
	"errors"

	"restroom-gateway/arbiter/domain"
)

// Fanout grava o mesmo evento em vários destinos. Um destino com erro não
// impede os demais; os erros são agregados.
type Fanout []domain.StatsStore

func (f Fanout) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
