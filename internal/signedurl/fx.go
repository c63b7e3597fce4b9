package signedurl

import "go.uber.org/fx"

// Module provides the signed-URL signer.
var Module = fx.Module("signedurl",
	fx.Provide(NewSigner),
)
