package utils

import (
	"testing"

	"go.viam.com/test"
)

type backendAttrs struct {
	Channels    int    `json:"channels"`
	CmdMemWords int    `json:"cmd_mem_words"`
	Name        string `json:"name"`
}

func TestAttributeMapGetters(t *testing.T) {
	am := AttributeMap{
		"channels": 4,
		"words":    "64",
		"polls":    float64(10),
		"bar":      "0x1fe000000",
		"bad":      "four",
	}

	test.That(t, am.Has("channels"), test.ShouldBeTrue)
	test.That(t, am.Has("nope"), test.ShouldBeFalse)

	v, err := am.Int("channels", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 4)

	v, err = am.Int("words", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 64)

	v, err = am.Int("missing", 9)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 9)

	_, err = am.Int("bad", 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `attribute "bad"`)

	u, err := am.Uint64("polls", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u, test.ShouldEqual, uint64(10))

	u, err = am.Uint64("bar", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u, test.ShouldEqual, uint64(0x1fe000000))

	u, err = am.Uint64("missing", 7)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u, test.ShouldEqual, uint64(7))

	_, err = am.Uint64("bad", 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeAttributes(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		out, err := DecodeAttributes[backendAttrs](AttributeMap{"channels": 2, "cmd_mem_words": "352"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldResemble, backendAttrs{Channels: 2, CmdMemWords: 352})
	})

	t.Run("pointer", func(t *testing.T) {
		out, err := DecodeAttributes[*backendAttrs](AttributeMap{"name": "lab"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Name, test.ShouldEqual, "lab")
	})

	t.Run("empty", func(t *testing.T) {
		out, err := DecodeAttributes[*backendAttrs](nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldNotBeNil)
		test.That(t, *out, test.ShouldResemble, backendAttrs{})
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := DecodeAttributes[backendAttrs](AttributeMap{"chanels": 2})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "chanels")
	})
}
