package clientconfig

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"mcpgate/internal/connector"
	"mcpgate/internal/protocol"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/connector.js.tmpl
var connectorTemplate string

var connectorTmpl = template.Must(template.New("connector").Funcs(sprig.TxtFuncMap()).Parse(connectorTemplate))

type connectorData struct {
	Key             string
	URLEnv          string
	TokenEnv        string
	AuthType        string
	AuthSuccessType string
	DrainMillis     int64
}

// RenderConnector returns the connector script for key. The script carries
// no address or secret; both come from its environment.
func RenderConnector(key string) ([]byte, error) {
	var buf bytes.Buffer
	err := connectorTmpl.Execute(&buf, connectorData{
		Key:             key,
		URLEnv:          EnvBridgeURL,
		TokenEnv:        EnvBridgeToken,
		AuthType:        protocol.TypeAuth,
		AuthSuccessType: protocol.TypeAuthSuccess,
		DrainMillis:     connector.DefaultDrainTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render connector script: %w", err)
	}
	return buf.Bytes(), nil
}
