package server

import "github.com/dotside-studios/davi-pay/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_davi-pay._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// APIPrefix is the path prefix of the HTTP API.
const APIPrefix = "/api/v1"

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
