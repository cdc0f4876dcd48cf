package main

const (
	MsgNotFound = "No such endpoint. The live stream is served at /video_feed and the viewer at /."

	MsgMethodNotAllowed = "This endpoint only answers GET requests."
)
