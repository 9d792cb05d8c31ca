package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrientationOf(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(Horizontal, OrientationOf(1920, 1080))
	assert.Equal(Vertical, OrientationOf(1080, 1920))
	assert.Equal(Square, OrientationOf(1000, 1000))
	assert.Equal([]string{Horizontal, Square}, ParseOrientations(" Horizontal, square,bogus,horizontal"))
}

func TestExtractResolutionTags(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		title string
		out   []Resolution
	}{
		{
			title: "Some Wallpaper [256x144]",
			out:   []Resolution{{256, 144}},
		},
		{
			title: "Collection (1920 x 1080) [3840×2160]",
			out:   []Resolution{{1920, 1080}, {3840, 2160}},
		},
		{
			title: "No tag 1920x1080",
			out:   nil,
		},
		{
			title: "Too short [12x34]",
			out:   nil,
		},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, ExtractResolutionTags(fix.title), fix.title)
		assert.Equal(fix.out != nil, HasResolutionTag(fix.title), fix.title)
	}
}

func TestParseResolution(t *testing.T) {
	assert := assert.New(t)

	r, err := ParseResolution("1920x1080")
	assert.NoError(err)
	assert.Equal(Resolution{1920, 1080}, r)
	assert.Equal("1920x1080", r.String())

	_, err = ParseResolution("1920")
	assert.Error(err)
	_, err = ParseResolution("axb")
	assert.Error(err)
}

func TestNormalRound(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1.778, NormalRound(16.0/9.0, 3))
	assert.Equal(0.563, NormalRound(9.0/16.0, 3))
	assert.Equal(3.0, NormalRound(2.5, 0))
	assert.Equal(1.778, AspectRatio(1920, 1080))
	assert.Equal(0.0, AspectRatio(10, 0))
	assert.Equal("2.0", FormatRatio(2))
	assert.Equal("1.778", FormatRatio(1.778))
}

func TestRatioRange(t *testing.T) {
	assert := assert.New(t)

	rr := ParseRatioRange("16:10 to 21:9")
	assert.NotNil(rr.Tall)
	assert.NotNil(rr.Wide)
	assert.Equal(1.6, rr.Tall.Value)
	assert.Equal(2.333, rr.Wide.Value)
	assert.Equal("tall", rr.Check(AspectRatio(1024, 768)))
	assert.Equal("", rr.Check(AspectRatio(1920, 1080)))
	assert.Equal("wide", rr.Check(AspectRatio(5760, 1080)))
	assert.Equal("between 16:10 (1.6:1) and 21:9 (2.333:1)", rr.Describe())

	open := ParseRatioRange("16:10 to none")
	assert.Nil(open.Wide)
	assert.Equal("wider than 16:10 (1.6:1)", open.Describe())

	open = ParseRatioRange("x to 9:16")
	assert.Nil(open.Tall)
	assert.Equal("taller than 9:16 (0.563:1)", open.Describe())

	assert.True(ParseRatioRange("").IsOpen())
	assert.Nil(ParseRatio("1:0"))
}
