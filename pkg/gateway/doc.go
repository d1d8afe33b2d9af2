// Package gateway manages a Yandex Cloud Serverless API Gateway that proxies
// to a single base URL: control-plane calls (Client), the find-or-create /
// wait-for-active / delete lifecycle (LifecycleManager, Guard, WithGateway)
// and request rewriting to the gateway's public URL (Rewriter).
package gateway
