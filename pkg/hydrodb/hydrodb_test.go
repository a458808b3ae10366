package hydrodb

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sonarlab/hydrodb/pkg/clock"
	"github.com/sonarlab/hydrodb/pkg/options"
)

func TestInstanceEndToEnd(t *testing.T) {
	ctx := context.Background()

	instance, err := NewInstance(ctx, "hydrodb-test",
		options.WithDataDir("/base"),
		options.WithFs(afero.NewMemMapFs()),
		options.WithClock(clock.NewFake(0)),
	)
	require.NoError(t, err)
	defer instance.Close(ctx)

	projectID, err := instance.CreateProject("survey")
	require.NoError(t, err)
	trackID, err := instance.CreateTrack(projectID, "track-001")
	require.NoError(t, err)
	channelID, err := instance.CreateChannel(ctx, trackID, "starboard")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		index, err := instance.AppendChannelData(channelID, int64(i+1)*1000, []byte{byte(i)})
		require.NoError(t, err)
		require.EqualValues(t, i, index)
	}

	first, last, err := instance.GetChannelDataRange(channelID)
	require.NoError(t, err)
	require.EqualValues(t, 0, first)
	require.EqualValues(t, 9, last)

	buf := make([]byte, 8)
	n, recordTime, err := instance.GetChannelData(channelID, 4, buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.EqualValues(t, 5000, recordTime)
	require.Equal(t, byte(4), buf[0])

	result, err := instance.FindChannelData(channelID, 5000)
	require.NoError(t, err)
	require.Equal(t, FindExact, result.Kind)
	require.Equal(t, Bound{Index: 4, Time: 5000}, result.Left)

	result, err = instance.FindChannelData(channelID, 5500)
	require.NoError(t, err)
	require.Equal(t, FindBetween, result.Kind)
	require.Equal(t, Bound{Index: 4, Time: 5000}, result.Left)
	require.Equal(t, Bound{Index: 5, Time: 6000}, result.Right)

	paramID, err := instance.OpenChannelParam(channelID)
	require.NoError(t, err)
	require.NoError(t, instance.SetStringParam(paramID, "sonar.mode", "survey"))
	mode, err := instance.GetStringParam(paramID, "sonar.mode")
	require.NoError(t, err)
	require.Equal(t, "survey", mode)

	require.NoError(t, instance.FinalizeChannel(channelID))
	_, err = instance.AppendChannelData(channelID, 99_000, []byte{0xff})
	require.Error(t, err)

	projects, err := instance.ProjectList()
	require.NoError(t, err)
	require.Equal(t, []string{"survey"}, projects)
}
