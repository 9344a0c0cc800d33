package domain

// Camada de domínio da admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net ou do protocolo.

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrUnknownGroup    = errors.New("unknown group")
	ErrInvalidCapacity = errors.New("capacity must be > 0")
	ErrInvalidGroups   = errors.New("exactly two distinct, non-empty groups are required")
)

// Group é o rótulo de grupo (no protocolo: "gender").
type Group string

type Outcome uint8

const (
	OutcomeGranted Outcome = iota + 1
	OutcomeDenied
	OutcomeLeft
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDenied:
		return "denied"
	case OutcomeLeft:
		return "left"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type GroupCount struct {
	Group Group
	Count int
}

// Occupancy é uma fotografia (cópia) dos contadores, na ordem dos grupos
// configurados. Nunca aponta para o estado interno do controlador.
type Occupancy []GroupCount

func (o Occupancy) Count(g Group) int {
	for _, gc := range o {
		if gc.Group == g {
			return gc.Count
		}
	}
	return 0
}

func (o Occupancy) Total() int {
	n := 0
	for _, gc := range o {
		n += gc.Count
	}
	return n
}

// String formata como "M=2 F=0" (usado em logs).
func (o Occupancy) String() string {
	var b strings.Builder
	for i, gc := range o {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(gc.Group))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(gc.Count))
	}
	return b.String()
}

// Verdict é o resultado de uma operação do controlador de admissão.
type Verdict struct {
	Outcome   Outcome
	Occupancy Occupancy
}

// Admission é o único ponto de mutação da ocupação.
//
// Erros são reservados para grupos fora do conjunto fechado (ErrUnknownGroup);
// negação e "não entrou" são resultados normais (Outcome).
type Admission interface {
	TryEnter(Group) (Verdict, error)
	Leave(Group) (Verdict, error)
}
