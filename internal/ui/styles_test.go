package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoColorStyles_ReturnsEmptyStyles(t *testing.T) {
	// When: getting no color styles
	styles := NoColorStyles()

	// Then: rendering empty strings works without panic
	_ = styles.Header.Render("")
	_ = styles.Success.Render("")
	_ = styles.Warning.Render("")
	_ = styles.Error.Render("")
	_ = styles.Dim.Render("")
	_ = styles.Stage.Render("")
	_ = styles.Active.Render("")
	_ = styles.Progress.Render("")
}

func TestDefaultStyles_HeaderContainsText(t *testing.T) {
	styles := DefaultStyles()

	rendered := styles.Header.Render("Test")

	assert.Contains(t, rendered, "Test")
}

func TestStyles_RenderStageIndicators(t *testing.T) {
	styles := DefaultStyles()

	active := styles.Active.Render("●")
	dim := styles.Dim.Render("○")

	assert.Contains(t, active, "●")
	assert.Contains(t, dim, "○")
}

func TestGetStyles_WithNoColor(t *testing.T) {
	styles := GetStyles(true)

	text := styles.Success.Render("test")
	assert.Equal(t, "test", text)
}

func TestGetStyles_WithColor(t *testing.T) {
	styles := GetStyles(false)

	text := styles.Success.Render("test")
	assert.Contains(t, text, "test")
}
