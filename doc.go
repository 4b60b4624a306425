// Package vecclf embeds a labeled text corpus, clusters and plots the embeddings,
// and trains a small binary classifier on them.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	loader := corpus.NewLoader(corpus.NewFileSource("./data"), "imdb", corpus.WithLimit(5000))
//	embedder := embedding.NewPipeline(loader, hashing.New(hashing.DefaultDim))
//
//	p := vecclf.New(blobstore.NewLocalStore("./artifacts"), vecclf.WithEmbedder(embedder))
//	report, _ := p.Run(ctx, vecclf.RunConfig{
//	    Split:    "train",
//	    Prefix:   "imdb",
//	    K:        2,
//	    PlotPath: "./artifacts/clusters.png",
//	    Train:    vecclf.DefaultTrainConfig(),
//	})
//
// # Stages
//
// The stages can also be driven one at a time:
//
//	res, _ := p.Embed(ctx, "train")                       // load
//	_ = p.Persist(ctx, "imdb", res)                       // <prefix>_embeds, <prefix>_labels
//	asg, _ := p.Cluster(ctx, res.Embeddings, 2)           // k-means + representatives
//	_ = p.Visualize(ctx, res.Embeddings, asg, "plot.png") // t-SNE scatter
//	tr, _ := p.Train(ctx, res.Embeddings, res.Corpus.Labels(), cfg)
//
// Every stage failure is a *StageError naming the stage; the component sentinels
// (ErrDataSource, ErrShapeMismatch, ...) remain reachable through errors.Is.
//
// # Artifacts
//
// Embeddings are stored as raw little-endian float32 rows, labels as raw
// little-endian int64 values, both without a header. Checkpoints use the format of
// package checkpoint.
package vecclf
