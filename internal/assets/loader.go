package assets

// AssetLoader loads report stylesheets and viewer page templates by name.
// Names carry no extension; loaders reject invalid ones with
// ErrInvalidAssetName and report absent ones with ErrStyleNotFound or
// ErrTemplateNotFound.
type AssetLoader interface {
	LoadStyle(name string) (string, error)
	LoadTemplate(name string) (string, error)
}
