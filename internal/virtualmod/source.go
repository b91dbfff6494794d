package virtualmod

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// The initializer memoizes its in-flight promise, so callers that arrive
// while loading is in progress await the same attempt. A failed attempt stays
// failed for the lifetime of the page.
var sourceTemplate = template.Must(template.New("wasm-init").Parse(`import init from {{.Loader}};

const initState = { status: 'not-started', promise: null, error: null };

function ensureInitialized() {
  if (initState.promise !== null) {
    return initState.promise;
  }
  initState.status = 'in-progress';
  initState.promise = Promise.resolve()
    .then(() => init())
    .then(
      () => {
        initState.status = 'completed';
        console.log({{.SuccessMessage}});
      },
      (error) => {
        initState.status = 'failed';
        initState.error = error;
        console.error('Failed to load WASM:', error);
        throw error;
      },
    );
  return initState.promise;
}

export async function initWasm() {
  return ensureInitialized();
}

ensureInitialized().catch(() => {
  // Already reported by the rejection handler above.
});

if (import.meta.hot) {
  import.meta.hot.accept({{.Loader}}, () => {
    console.log('WASM module updated, reloading...');
    window.location.reload();
  });
}
`))

type sourceData struct {
	Loader         string
	SuccessMessage string
}

func renderSource(packageName, loaderPath string) (string, error) {
	loader, err := jsString(loaderPath)
	if err != nil {
		return "", err
	}
	message, err := jsString(packageName + " WASM loaded successfully")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := sourceTemplate.Execute(&b, sourceData{Loader: loader, SuccessMessage: message}); err != nil {
		return "", fmt.Errorf("render virtual module: %w", err)
	}
	return b.String(), nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) (string, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", s, err)
	}
	return string(out), nil
}
