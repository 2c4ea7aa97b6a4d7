package stages

import "xhsresearch/pkg/pipeline"

// All returns the seven pipeline stages in execution order.
func All() []pipeline.Stage {
	return []pipeline.Stage{
		&Scrape{},
		&Visual{},
		&Cluster{},
		&Comparative{},
		&Insights{},
		&Themes{},
		&Visualize{},
	}
}
