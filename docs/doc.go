// Package docs provides generated OpenAPI documentation.
//
// Quill API
//
//	@title			Quill API
//	@version		1.0
//	@description	Manuscript analysis pipeline API for ingesting drafts and reviewing continuity, style and extraction results.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/quill
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8521
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/quill/serve.go -o . --parseDependency --parseInternal
