package backend

import "strings"

// Available lists the kinds e advertises, accelerated kinds first.
func Available(e Engine) []Kind {
	if e == nil {
		return nil
	}
	return append(accelerated(e), CPU)
}

// accelerated lists the accelerated kinds e advertises in AcceleratedOrder.
func accelerated(e Engine) []Kind {
	var out []Kind
	for _, k := range AcceleratedOrder {
		if e.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// AvailableString is Available joined with commas.
func AvailableString(e Engine) string {
	kinds := Available(e)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}
