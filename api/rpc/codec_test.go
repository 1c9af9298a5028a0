package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/megware/xbatctld/pkg/types"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec, "json codec must register on package import")
}

func TestCodecRoundTrip(t *testing.T) {
	codec := jsonCodec{}

	in := &SubmitBenchmarkRequest{
		Issuer:   "alice",
		Name:     "stream",
		ConfigID: "652a1b2c3d4e5f6a7b8c9d0e",
		Variables: []types.ConfigVariable{
			{Key: "N", Selected: []string{"1", "2"}},
		},
		SharedProjects: []string{"hpc"},
	}

	data, err := codec.Marshal(in)
	require.NoError(t, err)

	out := new(SubmitBenchmarkRequest)
	require.NoError(t, codec.Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestCodecUnmarshalGarbage(t *testing.T) {
	err := jsonCodec{}.Unmarshal([]byte("not json"), &Empty{})
	assert.Error(t, err)
}

func TestJobsResponseKeyedByID(t *testing.T) {
	// Numeric map keys must survive the string keys JSON forces on them.
	codec := jsonCodec{}
	in := &GetJobsResponse{
		Jobs: map[int64]*types.SlurmJob{
			101: {JobID: 101, JobState: []string{"RUNNING"}},
		},
	}

	data, err := codec.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"101"`)

	out := new(GetJobsResponse)
	require.NoError(t, codec.Unmarshal(data, out))
	require.Contains(t, out.Jobs, int64(101))
	assert.Equal(t, []string{"RUNNING"}, out.Jobs[101].JobState)
}
