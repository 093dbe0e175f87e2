package anthropic

// BuildCachedSystemBlocks returns the system prompt followed by a block that
// carries a cache breakpoint. Everything up to and including the cached block
// is reused across calls that send the same text.
func BuildCachedSystemBlocks(system, cached, ttl string) []SystemBlock {
	blocks := make([]SystemBlock, 0, 2)
	if system != "" {
		blocks = append(blocks, SystemBlock{Text: system})
	}
	return append(blocks, SystemBlock{
		Text:         cached,
		CacheControl: &CacheControl{TTL: ttl},
	})
}
