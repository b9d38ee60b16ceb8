package slice

// Map maps the input slice using the provided mapper function.
func Map[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

// MapErr maps the input slice using a mapper function that may fail. MapErr
// stops at the first error and returns it together with the elements mapped
// so far.
func MapErr[In, Out any](in []In, fn func(In) (Out, error)) ([]Out, error) {
	out := make([]Out, 0, len(in))
	for _, v := range in {
		mapped, err := fn(v)
		if err != nil {
			return out, err
		}
		out = append(out, mapped)
	}
	return out, nil
}
