package permutation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/megware/xbatctld/pkg/types"
)

func TestBindings(t *testing.T) {
	tests := []struct {
		name      string
		variables []types.ConfigVariable
		want      []map[string]string
	}{
		{
			name:      "no variables yields one empty binding",
			variables: nil,
			want:      []map[string]string{{}},
		},
		{
			name: "single values become constants",
			variables: []types.ConfigVariable{
				{Key: "N", Selected: []string{"1024"}},
				{Key: "OMP_NUM_THREADS", Selected: []string{"8"}},
			},
			want: []map[string]string{{"N": "1024", "OMP_NUM_THREADS": "8"}},
		},
		{
			name: "multi value expands in order",
			variables: []types.ConfigVariable{
				{Key: "N", Selected: []string{"1", "2"}},
			},
			want: []map[string]string{{"N": "1"}, {"N": "2"}},
		},
		{
			name: "product cycles the last variable fastest",
			variables: []types.ConfigVariable{
				{Key: "A", Selected: []string{"1", "2"}},
				{Key: "B", Selected: []string{"x", "y"}},
			},
			want: []map[string]string{
				{"A": "1", "B": "x"},
				{"A": "1", "B": "y"},
				{"A": "2", "B": "x"},
				{"A": "2", "B": "y"},
			},
		},
		{
			name: "constants join every binding",
			variables: []types.ConfigVariable{
				{Key: "MODE", Selected: []string{"fast"}},
				{Key: "N", Selected: []string{"1", "2"}},
			},
			want: []map[string]string{
				{"MODE": "fast", "N": "1"},
				{"MODE": "fast", "N": "2"},
			},
		},
		{
			name: "empty keys and empty selections are ignored",
			variables: []types.ConfigVariable{
				{Key: "", Selected: []string{"1", "2"}},
				{Key: "EMPTY", Selected: nil},
				{Key: "N", Selected: []string{"1"}},
			},
			want: []map[string]string{{"N": "1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Bindings(tt.variables))
		})
	}
}

func TestBindingsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 4).Draw(t, "count")
		variables := make([]types.ConfigVariable, 0, count)
		expected := 1
		for i := 0; i < count; i++ {
			values := rapid.IntRange(1, 4).Draw(t, fmt.Sprintf("values%d", i))
			selected := make([]string, values)
			for j := range selected {
				selected[j] = fmt.Sprintf("v%d_%d", i, j)
			}
			variables = append(variables, types.ConfigVariable{
				Key:      fmt.Sprintf("VAR%d", i),
				Selected: selected,
			})
			if values > 1 {
				expected *= values
			}
		}

		bindings := Bindings(variables)
		require.Len(t, bindings, expected)
		for _, b := range bindings {
			require.Len(t, b, count)
			for _, v := range variables {
				require.Contains(t, v.Selected, b[v.Key])
			}
		}
	})
}
