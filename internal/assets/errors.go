package assets

import "errors"

var (
	ErrStyleNotFound    = errors.New("report stylesheet not found")
	ErrTemplateNotFound = errors.New("viewer template not found")
	ErrInvalidAssetName = errors.New("invalid asset name")

	// ErrInvalidBasePath reports an --assets-dir that is not a directory.
	ErrInvalidBasePath = errors.New("invalid assets directory")
	ErrAssetRead       = errors.New("failed to read asset")

	// ErrPathTraversal reports a file that resolves outside the assets
	// directory, typically through a symlink.
	ErrPathTraversal = errors.New("asset path escapes the assets directory")
)
