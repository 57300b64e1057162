package catalog

import (
	"bytes"
	"cmp"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrUnknownTemplateProduct = errors.New("template references unknown product")
	ErrDuplicateProduct       = errors.New("duplicate product code")
	ErrDuplicateTemplate      = errors.New("duplicate template")
	ErrDuplicatePipeline      = errors.New("duplicate pipeline")
)

type templateKey struct {
	productCode string
	channel     message.Channel
	code        string
}

type file struct {
	Products  []Product  `mapstructure:"products"  validate:"dive"`
	Templates []Template `mapstructure:"templates" validate:"dive"`
	Pipelines []Pipeline `mapstructure:"pipelines" validate:"dive"`
}

// Catalog is the read-only lookup of products, templates and pipelines.
// It is built once and never mutated afterwards, so it is safe for concurrent use.
type Catalog struct {
	products  map[string]Product
	templates map[templateKey]Template
	pipelines map[message.Channel][]Pipeline
}

// Load reads the catalog from path, or from the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog

	if path != "" {
		var err error

		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
	}

	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	err := v.ReadConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var f file

	err = v.Unmarshal(&f)
	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	err = validator.New().Struct(&f)
	if err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	return New(f.Products, f.Templates, f.Pipelines)
}

// New builds a catalog. Pipelines of a channel are ordered by priority; equal
// priorities keep declaration order.
func New(products []Product, templates []Template, pipelines []Pipeline) (*Catalog, error) {
	c := &Catalog{
		products:  make(map[string]Product, len(products)),
		templates: make(map[templateKey]Template, len(templates)),
		pipelines: make(map[message.Channel][]Pipeline),
	}

	for _, p := range products {
		if _, ok := c.products[p.Code]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProduct, p.Code)
		}

		c.products[p.Code] = p
	}

	for _, t := range templates {
		if _, ok := c.products[t.ProductCode]; !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTemplateProduct, t.ProductCode, t.Code)
		}

		key := templateKey{productCode: t.ProductCode, channel: t.Channel, code: t.Code}
		if _, ok := c.templates[key]; ok {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrDuplicateTemplate, t.ProductCode, t.Channel, t.Code)
		}

		c.templates[key] = t
	}

	for _, p := range pipelines {
		for _, existing := range c.pipelines[p.Channel] {
			if existing.Provider == p.Provider {
				return nil, fmt.Errorf("%w: %s/%s", ErrDuplicatePipeline, p.Channel, p.Provider)
			}
		}

		c.pipelines[p.Channel] = append(c.pipelines[p.Channel], p)
	}

	for channel := range c.pipelines {
		sort.SliceStable(c.pipelines[channel], func(i, j int) bool {
			return c.pipelines[channel][i].Priority < c.pipelines[channel][j].Priority
		})
	}

	return c, nil
}

// Product returns an ACTIVE product; inactive and unknown products fail alike.
func (c *Catalog) Product(code string) (Product, error) {
	p, ok := c.products[code]
	if !ok || !p.Active() {
		return Product{}, message.New(
			message.CodeProductNotFound,
			fmt.Sprintf("Product %s not found or inactive", code),
			nil,
		)
	}

	return p, nil
}

func (c *Catalog) Products() []Product {
	products := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if p.Active() {
			products = append(products, p)
		}
	}

	slices.SortFunc(products, func(a, b Product) int {
		return cmp.Compare(a.Code, b.Code)
	})

	return products
}

func (c *Catalog) Template(productCode string, channel message.Channel, code string) (Template, error) {
	t, ok := c.templates[templateKey{productCode: productCode, channel: channel, code: code}]
	if !ok || !t.Active {
		return Template{}, message.New(
			message.CodeTemplateNotFound,
			fmt.Sprintf("Template %s not found for %s/%s", code, productCode, channel),
			nil,
		)
	}

	return t, nil
}

func (c *Catalog) Templates(productCode string) []Template {
	var templates []Template

	for _, t := range c.templates {
		if t.ProductCode == productCode && t.Active {
			templates = append(templates, t)
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Channel != templates[j].Channel {
			return templates[i].Channel < templates[j].Channel
		}

		return templates[i].Code < templates[j].Code
	})

	return templates
}

// Pipelines returns the active pipelines of a channel in failover order.
func (c *Catalog) Pipelines(channel message.Channel) ([]Pipeline, error) {
	all, ok := c.pipelines[channel]
	if !ok || len(all) == 0 {
		return nil, message.New(
			message.CodeInvalidChannel,
			fmt.Sprintf("No pipelines configured for channel: %s", channel),
			nil,
		)
	}

	active := make([]Pipeline, 0, len(all))
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}

	return active, nil
}

// AllPipelines returns every configured pipeline, active or not, grouped by channel.
func (c *Catalog) AllPipelines() []Pipeline {
	var all []Pipeline

	for _, channel := range message.Channels {
		all = append(all, c.pipelines[channel]...)
	}

	return all
}
