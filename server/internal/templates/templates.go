package templates

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/patrick91/metamist/internal/format"
)

//go:embed *.html partials/*.html
var FS embed.FS

// Parse returns the parsed templates with custom functions
func Parse() (*template.Template, error) {
	funcMap := template.FuncMap{
		"formatNumber": formatNumber,
		"formatCost":   format.Cost,
		"formatBytes":  format.Bytes,
		"formatValue":  format.Any,
	}

	return template.New("").Funcs(funcMap).ParseFS(FS, "*.html", "partials/*.html")
}

func formatNumber(n any) string {
	str := fmt.Sprintf("%d", n)
	if str == "0" {
		return "0"
	}

	negative := strings.HasPrefix(str, "-")
	if negative {
		str = str[1:]
	}

	var result strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}

	if negative {
		return "-" + result.String()
	}
	return result.String()
}
