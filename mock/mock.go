//go:generate mockgen -package mock -destination ./transport.go github.com/eventflow/faasctl/transport Transport
//go:generate mockgen -package mock -destination ./kv.go github.com/eventflow/faasctl/session KV
//go:generate mockgen -package mock -destination ./issuer.go github.com/eventflow/faasctl/session TokenIssuer

package mock
