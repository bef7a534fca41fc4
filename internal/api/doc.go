// Package api handles incoming HTTP requests, request validation and
// response formatting. It adapts HTTP to the services in internal/service:
// handlers decode and validate input, call one service method and map the
// result or error onto a status code and a JSON body.
package api
