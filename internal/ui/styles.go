package ui

import "github.com/fatih/color"

// Style renders a string with an optional color attribute. It mirrors the
// minimal rendering surface status output needs without pulling in a full
// terminal layout library.
type Style struct {
	c *color.Color
}

// Render applies the style's color (if any) to s and returns the result.
func (s Style) Render(str string) string {
	if s.c == nil {
		return str
	}
	return s.c.Sprint(str)
}

func colorStyle(attrs ...color.Attribute) Style {
	return Style{c: color.New(attrs...)}
}

// Styles holds the named text styles used when rendering status output.
type Styles struct {
	Header   Style
	Success  Style
	Warning  Style
	Error    Style
	Dim      Style
	Stage    Style
	Active   Style
	Progress Style
}

// DefaultStyles returns colored styles for TTY output.
func DefaultStyles() Styles {
	return Styles{
		Header:   colorStyle(color.Bold, color.FgGreen),
		Success:  colorStyle(color.FgGreen),
		Warning:  colorStyle(color.FgYellow),
		Error:    colorStyle(color.FgRed),
		Dim:      colorStyle(color.FgHiBlack),
		Stage:    colorStyle(color.FgGreen),
		Active:   colorStyle(color.Bold, color.FgGreen),
		Progress: colorStyle(color.FgGreen),
	}
}

// NoColorStyles returns unstyled passthrough rendering for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Header:   Style{},
		Success:  Style{},
		Warning:  Style{},
		Error:    Style{},
		Dim:      Style{},
		Stage:    Style{},
		Active:   Style{},
		Progress: Style{},
	}
}

// GetStyles returns the appropriate style set based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
