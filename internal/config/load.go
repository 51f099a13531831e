package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/spf13/viper"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/ini.v1"

	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// EnvPrefix prefixes the environment variables overriding file values,
// e.g. CCA_GENERAL_DEFAULTSERVICE overrides [General] DefaultService.
const EnvPrefix = "CCA"

// Load reads an allocation configuration file.
//
// The format follows the extension: .ini/.cfg/.conf use sections
// and key = value lines, .hcl uses blocks named after the sections, and any
// other extension (.yaml, .json, .toml) is read by viper directly.
func Load(path string) (*Config, error) {
	v := newViper()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".cfg", ".conf":
		sections, err := readINI(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(sections); err != nil {
			return nil, errors.Wrap(errors.TypeConfig, "failed to merge INI configuration", err)
		}
	case ".hcl":
		sections, err := readHCL(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(sections); err != nil {
			return nil, errors.Wrap(errors.TypeConfig, "failed to merge HCL configuration", err)
		}
	default:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(errors.TypeConfig, err, "failed to read config file %s", path)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	logging.Debug("Configuration loaded")
	return cfg, nil
}

// FromMap builds a configuration from sections, as the INI file would hold them:
// section name → key → value (string or list of strings).
func FromMap(sections map[string]any) (*Config, error) {
	v := newViper()
	if err := v.MergeConfigMap(sections); err != nil {
		return nil, errors.Wrap(errors.TypeConfig, "failed to merge configuration", err)
	}
	return fromViper(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("general.dateformat", "%Y-%m-%d")
	v.SetDefault("general.amounts", AmortizedCost+","+OnDemandCost)
	v.SetDefault("general.allocationkeys", ProviderCostAllocationKey)
	v.SetDefault("cycles.maxbreaks", DefaultMaxBreaks)
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()

	cfg.DateFormat = strings.TrimSpace(v.GetString("general.dateformat"))
	cfg.DefaultService = strings.ToLower(strings.TrimSpace(v.GetString("general.defaultservice")))
	cfg.DefaultProduct = strings.ToLower(strings.TrimSpace(v.GetString("general.defaultproduct")))
	cfg.Dimensions = list(v, "general.dimensions", false)
	cfg.Amounts = list(v, "general.amounts", false)
	cfg.AllocationKeys = list(v, "general.allocationkeys", false)

	var err error
	if cfg.NbProviderMeters, err = integer(v, "general.numberofprovidermeters"); err != nil {
		return nil, err
	}
	if cfg.NbProductDimensions, err = integer(v, "general.numberofproductdimensions"); err != nil {
		return nil, err
	}
	if cfg.NbProductMeters, err = integer(v, "general.numberofproductmeters"); err != nil {
		return nil, err
	}

	if len(cfg.Amounts) == 0 || len(cfg.AllocationKeys) == 0 {
		return nil, errors.Config("amounts and allocation keys must not be empty")
	}

	// Amount to allocation key indexes; unmapped amounts use the first key
	cfg.AmountAllocationKeys = make(map[int]int, len(cfg.Amounts))
	for _, pair := range list(v, "general.amountallocationkeys", false) {
		amount, key, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(amount) == "" {
			return nil, errors.Newf(errors.TypeConfig, "unexpected AmountAllocationKeys format: %q", pair)
		}
		amountIndex, found := cfg.AmountIndex(strings.TrimSpace(amount))
		if !found {
			return nil, errors.Newf(errors.TypeConfig, "amount %q present in AmountAllocationKeys is missing in Amounts", amount)
		}
		keyIndex, found := cfg.AllocationKeyIndex(strings.TrimSpace(key))
		if !found {
			return nil, errors.Newf(errors.TypeConfig, "allocation key %q present in AmountAllocationKeys is missing in AllocationKeys", key)
		}
		cfg.AmountAllocationKeys[amountIndex] = keyIndex
	}
	for i, amount := range cfg.Amounts {
		if _, ok := cfg.AmountAllocationKeys[i]; !ok {
			if i > 1 {
				logging.Sugar.Warnf("Amount '%s' is missing in AmountAllocationKeys, using '%s'", amount, cfg.AllocationKeys[0])
			}
			cfg.AmountAllocationKeys[i] = 0
		}
	}

	// Tag keys
	cfg.TagKeys.Service = list(v, "tagkey.service", true)
	cfg.TagKeys.Instance = list(v, "tagkey.instance", true)
	cfg.TagKeys.ConsumerService = list(v, "tagkey.consumerservice", true)
	cfg.TagKeys.ConsumerServiceIgnoredValues = list(v, "tagkey.consumerserviceignoredvalue", true)
	cfg.TagKeys.ConsumerInstance = list(v, "tagkey.consumerinstance", true)
	cfg.TagKeys.Product = list(v, "tagkey.product", true)
	for _, dimension := range cfg.Dimensions {
		cfg.TagKeys.Dimensions[dimension] = list(v, "tagkey."+strings.ToLower(dimension), true)
		cfg.TagKeys.ConsumerDimensions[dimension] = list(v, "tagkey.consumer"+strings.ToLower(dimension), true)
	}

	// Cycles
	cfg.Cycles.ServicePrecedenceList = list(v, "cycles.serviceprecedencelist", true)
	for _, pair := range list(v, "cycles.serviceupstreamlist", true) {
		service, upstream, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, errors.Newf(errors.TypeConfig, "unexpected ServiceUpstreamList format: %q", pair)
		}
		cfg.Cycles.ServiceUpstreams = append(cfg.Cycles.ServiceUpstreams, ServiceUpstream{
			Service:  strings.TrimSpace(service),
			Upstream: strings.TrimSpace(upstream),
		})
	}
	if cfg.Cycles.MaxBreaks, err = integer(v, "cycles.maxbreaks"); err != nil {
		return nil, err
	}

	// Unused commitments of FOCUS exports
	cfg.FocusUnusedCommitment.Service = strings.ToLower(strings.TrimSpace(v.GetString("focusunusedcommitment.unusedcommitmentservice")))
	cfg.FocusUnusedCommitment.Instance = strings.ToLower(strings.TrimSpace(v.GetString("focusunusedcommitment.unusedcommitmentinstance")))
	for _, dimension := range cfg.Dimensions {
		key := "focusunusedcommitment.unusedcommitment" + strings.ToLower(dimension)
		if v.IsSet(key) {
			cfg.FocusUnusedCommitment.Dimensions[dimension] = strings.TrimSpace(v.GetString(key))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// list reads a comma separated string or a list value
func list(v *viper.Viper, key string, lower bool) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(value, ",")
	case []string:
		raw = value
	case []any:
		for _, item := range value {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = strings.Split(fmt.Sprint(value), ",")
	}

	var values []string
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if lower {
			item = strings.ToLower(item)
		}
		values = append(values, item)
	}
	return values
}

func integer(v *viper.Viper, key string) (int, error) {
	switch value := v.Get(key).(type) {
	case nil:
		return 0, nil
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	default:
		s := strings.TrimSpace(fmt.Sprint(value))
		if s == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errors.Wrapf(errors.TypeConfig, err, "%s is not an integer", key)
		}
		return n, nil
	}
}

// readINI reads an INI file, keys and sections case-insensitive
func readINI(path string) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		return nil, errors.Wrapf(errors.TypeConfig, err, "failed to read config file %s", path)
	}

	sections := make(map[string]any)
	for _, section := range file.Sections() {
		keys := section.Keys()
		if len(keys) == 0 {
			continue
		}
		values := make(map[string]any, len(keys))
		for _, key := range keys {
			// Interpolation syntax escapes % as %%
			values[strings.ToLower(key.Name())] = strings.ReplaceAll(key.Value(), "%%", "%")
		}
		sections[strings.ToLower(section.Name())] = values
	}
	return sections, nil
}

// readHCL reads blocks such as `general { default_service = "shared" }`;
// underscores are dropped so block and attribute names match the INI keys.
func readHCL(path string) (map[string]any, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(errors.TypeConfig, diags, "failed to parse config file %s", path)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, errors.Newf(errors.TypeConfig, "unexpected HCL body in %s", path)
	}

	sections := make(map[string]any)
	for _, block := range body.Blocks {
		values := make(map[string]any, len(block.Body.Attributes))
		for name, attr := range block.Body.Attributes {
			value, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, errors.Wrapf(errors.TypeConfig, diags, "invalid value for %s.%s", block.Type, name)
			}
			converted, err := fromCty(value)
			if err != nil {
				return nil, errors.Wrapf(errors.TypeConfig, err, "invalid value for %s.%s", block.Type, name)
			}
			values[hclKey(name)] = converted
		}
		sections[hclKey(block.Type)] = values
	}
	return sections, nil
}

func hclKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

func fromCty(value cty.Value) (any, error) {
	if value.IsNull() || !value.IsKnown() {
		return nil, nil
	}
	ty := value.Type()
	switch {
	case ty == cty.String:
		return value.AsString(), nil
	case ty == cty.Number:
		bf := value.AsBigFloat()
		if bf.IsInt() {
			n, _ := bf.Int64()
			return int(n), nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty == cty.Bool:
		return value.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var items []any
		for _, item := range value.AsValueSlice() {
			converted, err := fromCty(item)
			if err != nil {
				return nil, err
			}
			items = append(items, converted)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
