/**
 * OCR Page Worker - Main Entry Point
 *
 * Redis-backed worker that turns page images into stored transcripts.
 *
 * Architecture:
 * - Queue consumer (plain Redis list or asynq, selected by QUEUE_DRIVER)
 * - Four-stage pipeline: load, preprocess, detect regions, recognize
 * - Tesseract recognition via gosseract
 * - PostgreSQL persistence, optional Qdrant semantic index over transcripts
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pagelens/ocr-worker/internal/config"
	"github.com/pagelens/ocr-worker/internal/ocr"
	"github.com/pagelens/ocr-worker/internal/processor"
	"github.com/pagelens/ocr-worker/internal/queue"
	"github.com/pagelens/ocr-worker/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("OCR page worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s (%s driver), Workers=%d",
		cfg.RedisURL, cfg.QueueName, cfg.QueueDriver, cfg.WorkerConcurrency)

	storageManager, err := storage.NewManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
		cfg.EmbeddingDims,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	defer storageManager.Close()

	engine, err := ocr.NewTesseractEngine(cfg.OCR)
	if err != nil {
		log.Fatalf("Failed to initialize OCR engine: %v", err)
	}

	ocrProcessor, err := processor.NewOCRProcessor(cfg.OCR, cfg.Image, engine)
	if err != nil {
		log.Fatalf("Failed to initialize OCR processor: %v", err)
	}

	var embedder *processor.EmbeddingClient
	if cfg.EmbeddingAPIKey != "" && storageManager.Indexing() {
		embedder, err = processor.NewEmbeddingClient(
			cfg.EmbeddingAPIKey, cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingDims)
		if err != nil {
			log.Fatalf("Failed to initialize embedding client: %v", err)
		}
		log.Printf("Semantic index enabled (model=%s, dims=%d)", cfg.EmbeddingModel, cfg.EmbeddingDims)
	} else {
		log.Printf("Semantic index disabled")
	}

	pageProcessor, err := processor.NewPageProcessor(ocrProcessor, storageManager, embedder)
	if err != nil {
		log.Fatalf("Failed to initialize page processor: %v", err)
	}

	stop, err := startConsumer(cfg, pageProcessor)
	if err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("OCR page worker is READY")
	log.Printf("Queue: %s (driver=%s)", cfg.QueueName, cfg.QueueDriver)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Engine: tesseract (%s)", cfg.OCR.EnginePath)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	}

	log.Printf("Shutdown complete")
}

// startConsumer starts the consumer matching the configured queue driver and
// returns its stop function.
func startConsumer(cfg *config.Config, proc processor.JobProcessor) (func() error, error) {
	switch cfg.QueueDriver {
	case "asynq":
		consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(context.Background()); err != nil {
			return nil, err
		}
		return func() error { return consumer.Stop(context.Background()) }, nil

	default: // "list"
		consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(); err != nil {
			return nil, err
		}
		return consumer.Stop, nil
	}
}
