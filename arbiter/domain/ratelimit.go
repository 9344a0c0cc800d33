package domain

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// A camada de infra usa golang.org/x/time/rate (token bucket).
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: host do cliente).
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed bool
}
