package assets

// Built-in asset names.
const (
	DefaultStyleName   = "default" // diagnostics and monitoring reports
	ViewerTemplateName = "viewer"  // page loaded by the native browser method
)

var defaultLoader = NewEmbeddedLoader()

// LoadStyle returns a built-in stylesheet. Used where no --assets-dir
// override applies, such as standalone report export.
func LoadStyle(name string) (string, error) {
	return defaultLoader.LoadStyle(name)
}

// LoadTemplate returns a built-in page template.
func LoadTemplate(name string) (string, error) {
	return defaultLoader.LoadTemplate(name)
}
