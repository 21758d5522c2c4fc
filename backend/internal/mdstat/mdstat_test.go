package mdstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const synologyMdstat = `Personalities : [raid1] [raid6] [raid5] [raid4] [raidF1]
md2 : active raid5 sata1p3[0] sata3p3[2] sata2p3[1]
      11701948416 blocks super 1.2 level 5, 64k chunk, algorithm 2 [3/3] [UUU]

md1 : active raid1 sata1p2[0] sata2p2[1] sata3p2[2](F)
      2097088 blocks [16/2] [UU______________]
      [==>..................]  recovery = 12.6% (264320/2097088) finish=0.1min speed=132160K/sec

md0 : active raid1 sata1p1[0] sata2p1[1] sata4p1[3](S)
      8388544 blocks [16/2] [UU______________]

unused devices: <none>
`

func TestParseSynology(t *testing.T) {
	arrays := Parse(synologyMdstat)
	require.Len(t, arrays, 3)

	md2 := arrays[0]
	assert.Equal(t, "md2", md2.Name)
	assert.Equal(t, "active", md2.State)
	assert.Equal(t, "raid5", md2.Level)
	assert.Equal(t, int64(11701948416), md2.Blocks)
	assert.Equal(t, 3, md2.Total)
	assert.Equal(t, 3, md2.Active)
	assert.Equal(t, "UUU", md2.Map)
	assert.False(t, md2.Degraded)
	require.Len(t, md2.Members, 3)
	assert.Equal(t, Member{Device: "sata3p3", Slot: 2, State: "active"}, md2.Members[1])

	md1 := arrays[1]
	assert.True(t, md1.Degraded)
	assert.Equal(t, "faulty", md1.Members[2].State)
	require.NotNil(t, md1.Sync)
	assert.Equal(t, "recovery", md1.Sync.Action)
	assert.InDelta(t, 12.6, md1.Sync.Percent, 0.001)
	assert.Equal(t, "132160K/sec", md1.Sync.Speed)
	assert.Equal(t, "0.1min", md1.Sync.Finish)

	md0 := arrays[2]
	assert.Equal(t, "spare", md0.Members[2].State)
	assert.Nil(t, md0.Sync)
}

func TestParseEmpty(t *testing.T) {
	arrays := Parse("Personalities : \nunused devices: <none>\n")
	assert.NotNil(t, arrays)
	assert.Empty(t, arrays)
}

func TestParseInactiveReadOnly(t *testing.T) {
	arrays := Parse("md127 : inactive sdc[0](S)\n      976762584 blocks super 1.2\n\nmd3 : active (auto-read-only) raid1 sdd1[1] sde1[0]\n      100 blocks [2/2] [UU]\n")
	require.Len(t, arrays, 2)
	assert.Equal(t, "inactive", arrays[0].State)
	assert.Empty(t, arrays[0].Level)
	assert.Equal(t, int64(976762584), arrays[0].Blocks)
	assert.True(t, arrays[1].ReadOnly)
	assert.Equal(t, "raid1", arrays[1].Level)
}
