package permutation

import "github.com/megware/xbatctld/pkg/types"

// Bindings computes the variable bindings for a benchmark.
//
// Variables with exactly one selected value are constants shared by every
// binding. Variables with two or more values multiply: the result is the
// cartesian product across the multi-valued variables, each tuple merged
// with the constants. Variables without a key or without values are ignored.
// With no multi-valued variables exactly one binding is returned, so a
// benchmark without variables still yields its permutations.
func Bindings(variables []types.ConfigVariable) []map[string]string {
	single := map[string]string{}
	var multi []types.ConfigVariable
	for _, v := range variables {
		if v.Key == "" || len(v.Selected) == 0 {
			continue
		}
		if len(v.Selected) == 1 {
			single[v.Key] = v.Selected[0]
			continue
		}
		multi = append(multi, v)
	}

	// Cartesian product over the multi-valued variables, last variable
	// cycling fastest. Starts from one empty tuple so the product of zero
	// variables is a single binding.
	tuples := [][]string{{}}
	for _, v := range multi {
		next := make([][]string, 0, len(tuples)*len(v.Selected))
		for _, t := range tuples {
			for _, val := range v.Selected {
				row := make([]string, len(t), len(t)+1)
				copy(row, t)
				next = append(next, append(row, val))
			}
		}
		tuples = next
	}

	bindings := make([]map[string]string, 0, len(tuples))
	for _, t := range tuples {
		b := make(map[string]string, len(single)+len(multi))
		for k, v := range single {
			b[k] = v
		}
		for i, v := range multi {
			b[v.Key] = t[i]
		}
		bindings = append(bindings, b)
	}
	return bindings
}
