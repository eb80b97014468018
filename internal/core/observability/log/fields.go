package log

import "fmt"

// Domain field helpers keep key names consistent between components.

func Replica(id fmt.Stringer) Field {
	return Stringer("replica", id)
}

func Peer(id fmt.Stringer) Field {
	return Stringer("peer", id)
}

func Collection(name string) Field {
	return String("collection", name)
}

func Seq(seq uint64) Field {
	return Uint64("seq", seq)
}

func State(s fmt.Stringer) Field {
	return Stringer("state", s)
}

func Component(name string) Field {
	return String("component", name)
}
