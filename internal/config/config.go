package config

import (
	"flag"
	"io"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/WIZARDISHUNGRY/samask/internal/mask"
	"github.com/WIZARDISHUNGRY/samask/internal/masker"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const envPrefix = "SAMASK_"

// Flags holds every setting the commands share.
type Flags struct {
	Library    string
	FreeSymbol string
	Model      string
	Seed       int
	Threads    int

	Input   string
	Output  string
	X, Y    float64
	MaxSide int
	Ansi    bool

	Serve     bool
	Listen    string
	MaxUpload int64

	CacheBytes int64
	CacheTTL   time.Duration
	Redis      string

	Worker   bool
	Privsep  bool
	DumpFSM  bool
	DumpHTTP bool
	LogLevel string
	EnvFile  string
}

// Register adds the flags to fs. Defaults come from env, which is usually
// the process environment merged with a .env file (see Env).
func Register(fs *flag.FlagSet, env map[string]string) *Flags {
	f := &Flags{}
	d := defaults{env: env}
	fs.StringVar(&f.Library, "lib", d.str("LIBRARY", "./libmask.so"), "path to the native mask library")
	fs.StringVar(&f.FreeSymbol, "lib-free-symbol", d.str("FREE_SYMBOL", "free_mask_buffer"), "exported function that frees mask buffers, empty to never free")
	fs.StringVar(&f.Model, "m", d.str("MODEL", "models/sam_vit_b-ggml-model-f16.bin"), "model path")
	fs.IntVar(&f.Seed, "s", d.int("SEED", -1), "RNG seed, negative to use the current time")
	fs.IntVar(&f.Threads, "t", d.int("THREADS", min(4, runtime.NumCPU())), "number of threads the native library may use")

	fs.StringVar(&f.Input, "i", d.str("INPUT", ""), "input image path or http(s) url")
	fs.StringVar(&f.Output, "o", d.str("OUTPUT", "output_mask.png"), "output mask path, format from extension")
	fs.Float64Var(&f.X, "x", 0, "click x in image pixels")
	fs.Float64Var(&f.Y, "y", 0, "click y in image pixels")
	fs.IntVar(&f.MaxSide, "max-side", d.int("MAX_SIDE", -1), "shrink inputs larger than this, 0 to disable, negative for 1024 with -serve and off otherwise")
	fs.BoolVar(&f.Ansi, "ansi", false, "draw the mask over the image in the terminal")

	fs.BoolVar(&f.Serve, "serve", d.bool("SERVE", false), "run the http server")
	fs.StringVar(&f.Listen, "listen", d.str("LISTEN", ":42069"), "http listen address")
	fs.Int64Var(&f.MaxUpload, "max-upload", d.int64("MAX_UPLOAD", 32<<20), "largest accepted image upload in bytes")

	fs.Int64Var(&f.CacheBytes, "cache-bytes", d.int64("CACHE_BYTES", 256<<20), "in-memory mask cache size, 0 to disable")
	fs.DurationVar(&f.CacheTTL, "cache-ttl", d.duration("CACHE_TTL", time.Hour), "mask cache entry lifetime")
	fs.StringVar(&f.Redis, "redis", d.str("REDIS", ""), "redis address for a shared mask cache")

	fs.BoolVar(&f.Worker, "worker", false, "used by process separation, not for end user use")
	fs.BoolVar(&f.Privsep, "privsep", d.bool("PRIVSEP", true), "run the native library in a child process")
	fs.BoolVar(&f.DumpFSM, "dump-fsm", false, "write graphviz src and exit")
	fs.BoolVar(&f.DumpHTTP, "dump-http", false, "dumps http headers of remote image fetches")
	fs.StringVar(&f.LogLevel, "log-level", d.str("LOG_LEVEL", "info"), "logrus level")
	fs.StringVar(&f.EnvFile, "env", ".env", "dotenv file read before flags")
	return f
}

// Env returns the process environment overlaid on the dotenv file at path.
// A missing file is not an error.
func Env(path string) (map[string]string, error) {
	env := map[string]string{}
	if path != "" {
		m, err := godotenv.Read(path)
		if err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "godotenv.Read %s", path)
		}
		for k, v := range m {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// Parse reads the dotenv file named by -env (scanned ahead of the real
// parse), then parses args. extra registers command specific flags on the
// same set. Parse errors are returned, not fatal.
func Parse(name string, args []string, output io.Writer, extra ...func(*flag.FlagSet)) (*Flags, error) {
	env, err := Env(envFileArg(args))
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	f := Register(fs, env)
	for _, reg := range extra {
		reg(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, f.Validate()
}

func envFileArg(args []string) string {
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if a == "env" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "env="); ok {
			return v
		}
	}
	return ".env"
}

func (f *Flags) Validate() error {
	if f.Threads <= 0 {
		return errors.Errorf("-t must be positive, got %d", f.Threads)
	}
	if f.Seed > math.MaxInt32 || f.Seed < math.MinInt32 {
		return errors.Errorf("-s %d does not fit in 32 bits", f.Seed)
	}
	if f.MaxSide < -1 {
		return errors.Errorf("-max-side must be -1 or more, got %d", f.MaxSide)
	}
	return nil
}

// ResolveSeed replaces a negative seed with the current Unix time, keeping
// the run reproducible from the logs.
func (f *Flags) ResolveSeed(now time.Time) int32 {
	if f.Seed < 0 {
		f.Seed = int(now.Unix() & math.MaxInt32)
	}
	return int32(f.Seed)
}

// ResolveMaxSide is the downscale limit to hand the masker. Only the server
// shrinks by default; one-shot runs pass the image through at full size.
func (f *Flags) ResolveMaxSide() int {
	switch {
	case f.MaxSide >= 0:
		return f.MaxSide
	case f.Serve:
		return masker.DefaultMaxSide
	}
	return 0
}

type defaults struct {
	env map[string]string
}

func (d defaults) lookup(key string) (string, bool) {
	v, ok := d.env[envPrefix+key]
	return v, ok && v != ""
}

func (d defaults) str(key, def string) string {
	if v, ok := d.lookup(key); ok {
		return v
	}
	return def
}

func (d defaults) int(key string, def int) int {
	if v, ok := d.lookup(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (d defaults) int64(key string, def int64) int64 {
	if v, ok := d.lookup(key); ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func (d defaults) bool(key string, def bool) bool {
	if v, ok := d.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (d defaults) duration(key string, def time.Duration) time.Duration {
	if v, ok := d.lookup(key); ok {
		if t, err := time.ParseDuration(v); err == nil {
			return t
		}
	}
	return def
}

// Params builds the native parameter record for this run.
func (f *Flags) Params(input, output string) (mask.Params, error) {
	return mask.NewParams(int32(f.Seed), int32(f.Threads), f.Model, input, output)
}
