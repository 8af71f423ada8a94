package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	l := New(Config{Level: "not-a-level", Format: "text", Output: "stdout"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestNewJSONFormatter(t *testing.T) {
	l := New(Config{Level: "debug", Format: "json", Output: "stdout"})
	_, ok := l.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestNewDefaultTagsComponent(t *testing.T) {
	l := NewDefault("jobs")
	entry := l.WithField("op", "create")
	assert.Equal(t, "create", entry.Data["op"])
}
