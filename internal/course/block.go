package course

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

// Site features that hide every block.
const (
	FeatureSiteBlocks   = "NoDelegate_SiteBlocks"
	FeatureCourseBlocks = "NoDelegate_CourseBlocks"
)

// PreRenderedComponent shows the HTML the site rendered for a block.
const PreRenderedComponent = "CoreBlockPreRenderedComponent"

type BlockContents struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Footer  string `json:"footer,omitempty"`
}

// Block is a block instance placed in a page region.
type Block struct {
	InstanceID int64          `json:"instanceid"`
	Name       string         `json:"name"`
	Region     string         `json:"region"`
	Contents   *BlockContents `json:"contents,omitempty"`
}

// BlockData is what a handler renders for a block.
type BlockData struct {
	Block     string `json:"block"`
	Title     string `json:"title"`
	Class     string `json:"class"`
	Component string `json:"component"`
	Content   string `json:"content,omitempty"`
}

// BlockHandler renders one block type. TypeKey returns the block name.
type BlockHandler interface {
	delegate.Handler
	delegate.Keyed
	GetDisplayData(ctx context.Context, block *Block, contextLevel string, instanceID int64) (delegate.Result[BlockData], error)
}

// BlockDelegate dispatches block rendering to the registered handlers.
type BlockDelegate struct {
	reg   *delegate.Registry[BlockHandler]
	sites types.SiteProvider
}

func NewBlockDelegate(sites types.SiteProvider, logger *slog.Logger) *BlockDelegate {
	reg := delegate.New[BlockHandler](delegate.Options{
		Name:          "CoreBlockDelegate",
		FeaturePrefix: BlockFeaturePrefix,
		Sites:         sites,
		Logger:        logger,
	})
	reg.SetDefault(preRenderedBlock{})
	return &BlockDelegate{reg: reg, sites: sites}
}

func (d *BlockDelegate) Register(h BlockHandler) error {
	return d.reg.Register(h)
}

func (d *BlockDelegate) Registry() *delegate.Registry[BlockHandler] {
	return d.reg
}

func (d *BlockDelegate) UpdateHandlers(ctx context.Context) error {
	return d.reg.UpdateHandlers(ctx)
}

// GetDisplayData renders a single block.
func (d *BlockDelegate) GetDisplayData(ctx context.Context, block *Block, contextLevel string, instanceID int64) delegate.Result[BlockData] {
	return delegate.Execute(ctx, d.reg, block.Name, func(ctx context.Context, h BlockHandler) (delegate.Result[BlockData], error) {
		return h.GetDisplayData(ctx, block, contextLevel, instanceID)
	})
}

// GetBlocksData renders blocks concurrently and returns the ones that
// produced something, in their original order.
func (d *BlockDelegate) GetBlocksData(ctx context.Context, blocks []Block, contextLevel string, instanceID int64) []BlockData {
	results := make([]delegate.Result[BlockData], len(blocks))
	var g errgroup.Group
	for i := range blocks {
		g.Go(func() error {
			results[i] = d.GetDisplayData(ctx, &blocks[i], contextLevel, instanceID)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]BlockData, 0, len(blocks))
	for _, res := range results {
		if data, ok := res.Value(); ok {
			out = append(out, data)
		}
	}
	return out
}

// IsBlockSupported reports whether an enabled handler renders name.
func (d *BlockDelegate) IsBlockSupported(name string) bool {
	return d.reg.HasHandler(name, true)
}

func (d *BlockDelegate) HasSupportedBlock(blocks []Block) bool {
	return slices.ContainsFunc(blocks, func(b Block) bool {
		return d.IsBlockSupported(b.Name)
	})
}

// AreBlocksDisabled reports whether the site hides blocks. With courses
// set it checks course blocks instead of site blocks.
func (d *BlockDelegate) AreBlocksDisabled(siteID types.SiteID, courses bool) bool {
	if d.sites == nil {
		return false
	}
	if siteID == "" {
		siteID = d.sites.CurrentSiteID()
	}
	feature := FeatureSiteBlocks
	if courses {
		feature = FeatureCourseBlocks
	}
	return d.sites.IsFeatureDisabled(siteID, feature)
}

type BlockHandlerBase struct {
	HandlerName string
	BlockName   string
	Prio        int
}

func (b *BlockHandlerBase) Name() string    { return b.HandlerName }
func (b *BlockHandlerBase) TypeKey() string { return b.BlockName }
func (b *BlockHandlerBase) Priority() int   { return b.Prio }

func (b *BlockHandlerBase) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

// preRenderedBlock shows blocks that came with site-rendered contents.
type preRenderedBlock struct{}

func (preRenderedBlock) Name() string    { return "CoreBlockDefaultHandler" }
func (preRenderedBlock) TypeKey() string { return "default" }

func (preRenderedBlock) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

func (preRenderedBlock) GetDisplayData(_ context.Context, block *Block, _ string, _ int64) (delegate.Result[BlockData], error) {
	if block.Contents == nil {
		return delegate.NotApplicable[BlockData](), nil
	}
	return delegate.Data(BlockData{
		Block:     block.Name,
		Title:     block.Contents.Title,
		Class:     "block_" + block.Name,
		Component: PreRenderedComponent,
		Content:   block.Contents.Content,
	}), nil
}
