package generation

// ProviderKind names who produces the text for a request.
type ProviderKind string

const (
	// ProviderAuto picks the remote provider when one is configured and the
	// local engine otherwise.
	ProviderAuto ProviderKind = "auto"
	// ProviderRemote delegates to the configured RemoteGenerator.
	ProviderRemote ProviderKind = "remote"
	// ProviderLocal uses the in-process Markov generator.
	ProviderLocal ProviderKind = "local"
)

// providerAliases maps accepted request values to provider kinds. "openai"
// and "markov" are the names older clients send.
var providerAliases = map[string]ProviderKind{
	"auto":   ProviderAuto,
	"remote": ProviderRemote,
	"local":  ProviderLocal,
	"openai": ProviderRemote,
	"markov": ProviderLocal,
}

// DecideProvider resolves ProviderAuto to ProviderRemote when hasRemote is
// true and to ProviderLocal otherwise. Any other choice is returned as is,
// even when it names a provider that is not available.
func DecideProvider(choice ProviderKind, hasRemote bool) ProviderKind {
	if choice != ProviderAuto {
		return choice
	}
	if hasRemote {
		return ProviderRemote
	}
	return ProviderLocal
}
