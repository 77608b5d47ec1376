// Package xslices contains slice helpers not found elsewhere.
package xslices

func Filter[T any, S ~[]T](s S, f func(T) bool) (r S) {
	r = make(S, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

// Remove returns s with the first occurrence of v removed.
func Remove[T comparable, S ~[]T](s S, v T) S {
	for i, e := range s {
		if e == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
