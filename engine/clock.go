package engine

import "time"

// Clock fournit l'horloge murale injectable dont dépend l'expiration TTL
// (spec.md §9 : "a monotonic wall-clock source must be injectable for
// testability"). Les tests fournissent une implémentation déterministe ;
// SystemClock est utilisée par défaut en production.
type Clock interface {
	NowMillis() int64
}

// SystemClock délègue à time.Now().
type SystemClock struct{}

func (SystemClock) NowMillis() int64 { return time.Now().UnixMilli() }
