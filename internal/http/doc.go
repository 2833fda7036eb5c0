// Package httpapp provides the HTTP server for Quillbox.
//
//	@title				Quillbox API
//	@version			1.0
//	@description		A blog-post ingestion service with token-gated image access.
//	@description
//	@description		## Submitting a Post
//	@description
//	@description		Posts are submitted as multipart forms with a main image and up
//	@description		to five additional images. Every submission is validated, all
//	@description		images are staged and promoted together, and the post is
//	@description		committed under a unique, strictly increasing reference number.
//	@description		A failed submission leaves no images behind.
//	@description
//	@description		```bash
//	@description		curl -X POST /api/posts \
//	@description		  -F 'title=Hello Quillbox' \
//	@description		  -F 'description=First post' \
//	@description		  -F 'date_time=1756339200' \
//	@description		  -F 'main_image=@cover.jpg' \
//	@description		  -F 'additional_images=@detail.png'
//	@description		```
//	@description
//	@description		## Fetching Images
//	@description
//	@description		Images are never served directly. Mint a short-lived token bound
//	@description		to one image path, then present both to the image endpoint:
//	@description
//	@description		```bash
//	@description		curl -X POST /api/tokens -d '{"image_path":"img-....jpg"}'
//	@description		# Returns: {"token": "...", "expires_at": "..."}
//	@description		curl '/api/images?path=img-....jpg&token=...'
//	@description		```
//	@description
//	@description		Tokens expire after five minutes by default and are only valid
//	@description		for the exact path they were minted for. Any token failure is a
//	@description		uniform 401.
//
//	@contact.name		Quillbox
//	@license.name		MIT
//
//	@host				localhost:8080
//	@BasePath			/
//
//	@tag.name			Posts
//	@tag.description	Submit and browse blog posts. Each committed post has a unique reference number.
//
//	@tag.name			Tokens
//	@tag.description	Mint short-lived capability tokens for image access.
//
//	@tag.name			Images
//	@tag.description	Token-gated image retrieval.
//
//	@tag.name			Meta
//	@tag.description	Version and site statistics.
package httpapp
